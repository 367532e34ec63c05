package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/shell/docker"
)

// =============================================================================
// Container Deployer
// =============================================================================

// Deployer replaces the running database instance with a fresh one built
// from the published image. Replacement is destructive: the prior container
// object is removed, the data volume persists.
type Deployer struct {
	docker  docker.Client
	cfg     *config.Config
	connect Connector
	log     *slog.Logger
}

// NewDeployer creates a Deployer.
func NewDeployer(cli docker.Client, cfg *config.Config, connect Connector, logger *slog.Logger) *Deployer {
	if connect == nil {
		connect = PostgresConnector
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deployer{docker: cli, cfg: cfg, connect: connect, log: logger}
}

// Deploy runs the full deployment sequence: provision network and volume,
// remove any prior instance, pull the image fresh, create and start the new
// instance, wait for readiness, then run the one-time initialization routine
// if the sentinel is absent. On readiness timeout the failure carries recent
// container logs; the created instance is left in place for inspection.
func (d *Deployer) Deploy(ctx context.Context) error {
	prov := NewProvisioner(d.docker, d.log)
	if _, err := prov.EnsureNetwork(d.cfg.Network); err != nil {
		return err
	}
	if _, err := prov.EnsureVolume(d.cfg.Volume); err != nil {
		return err
	}

	if err := d.removePrior(); err != nil {
		return err
	}

	ref := d.cfg.ImageRepository() + ":" + d.cfg.ImageTag
	d.log.Info("pulling image", "image", ref)
	if err := d.docker.PullImage(ref, docker.PullOptions{}); err != nil {
		return err
	}

	containerID, err := d.createInstance(ref)
	if err != nil {
		return err
	}

	if err := d.docker.StartContainer(containerID); err != nil {
		return err
	}
	d.log.Info("container started", "container", d.cfg.Container)

	if err := waitReady(ctx, d.docker, containerID, d.cfg.Admin, d.cfg.Readiness, d.log); err != nil {
		if logs := recentLogs(d.docker, containerID, "50"); logs != "" {
			d.log.Error("recent container logs", "logs", logs)
		}
		return err
	}

	init := NewInitializer(d.docker, d.cfg, d.connect, d.log)
	return init.Run(ctx, containerID)
}

// removePrior stops and removes any existing instance under the fixed name.
// Absence is not an error.
func (d *Deployer) removePrior() error {
	info, err := d.docker.InspectContainer(d.cfg.Container)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			return nil
		}
		return err
	}

	d.log.Info("removing prior instance", "container", d.cfg.Container, "state", info.State)

	timeout := stopTimeout
	if err := d.docker.StopContainer(info.ID, &timeout); err != nil &&
		!errors.Is(err, docker.ErrContainerNotRunning) && !errors.Is(err, docker.ErrContainerNotFound) {
		return err
	}
	if err := d.docker.RemoveContainer(info.ID, docker.RemoveOptions{Force: true}); err != nil &&
		!errors.Is(err, docker.ErrContainerNotFound) {
		return err
	}
	return nil
}

// createInstance creates the database container attached to the provisioned
// network and volume, with credentials for both principals and the embedded
// health-check policy.
func (d *Deployer) createInstance(ref string) (string, error) {
	spec := docker.ContainerSpec{
		Name:  d.cfg.Container,
		Image: ref,
		Env: map[string]string{
			"POSTGRES_USER":     d.cfg.Admin.User,
			"POSTGRES_PASSWORD": d.cfg.Admin.Password,
			"POSTGRES_DB":       d.cfg.Admin.Database,
			"APP_USER":          d.cfg.App.User,
			"APP_PASSWORD":      d.cfg.App.Password,
			"APP_DB":            d.cfg.App.Database,
		},
		Ports: []docker.PortBinding{
			{ContainerPort: 5432, HostPort: d.cfg.HostPort, Protocol: "tcp"},
		},
		Volumes: []docker.VolumeMount{
			{Source: d.cfg.Volume, Target: dataDir},
		},
		Networks:      []string{d.cfg.Network},
		RestartPolicy: docker.RestartPolicy{Name: d.cfg.RestartPolicy},
		HealthCheck: &docker.HealthCheck{
			Test:        []string{"CMD", healthcheckPath},
			Interval:    d.cfg.Health.Interval,
			Timeout:     d.cfg.Health.Timeout,
			StartPeriod: d.cfg.Health.StartPeriod,
			Retries:     d.cfg.Health.Retries,
		},
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelRole:    "database",
		},
	}

	id, err := d.docker.CreateContainer(spec)
	if err != nil {
		return "", fmt.Errorf("failed to create instance %s: %w", d.cfg.Container, err)
	}
	return id, nil
}

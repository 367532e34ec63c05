package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/dbstack/internal/core/compose"
	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/shell/docker"
)

// =============================================================================
// Development Stack
// =============================================================================

// stackPrefix namespaces dev-stack containers so they never collide with
// the managed database instance.
const stackPrefix = "dbstack-"

// stackDefaultNetwork hosts every service that declares no network of its
// own. Services must share a user-defined network for name-based discovery;
// the daemon's default bridge has no embedded DNS.
const stackDefaultNetwork = stackPrefix + "default"

// Stack brings the compose-declared development services up and down.
type Stack struct {
	docker docker.Client
	cfg    *config.Config
	log    *slog.Logger
	Out    io.Writer
}

// NewStack creates a Stack bound to stdout.
func NewStack(cli docker.Client, cfg *config.Config, logger *slog.Logger) *Stack {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stack{docker: cli, cfg: cfg, log: logger, Out: os.Stdout}
}

// load parses the compose file with the process environment plus the loaded
// configuration as the interpolation context.
func (s *Stack) load() (*compose.Stack, error) {
	raw, err := os.ReadFile(s.cfg.ComposeFile)
	if err != nil {
		return nil, fmt.Errorf("compose file %s: %w", s.cfg.ComposeFile, err)
	}
	return compose.Parse(string(raw), s.environment())
}

// environment builds the compose interpolation context: process environment
// first, then the configuration-derived variables on top. The loaded config
// already folded in DBSTACK_ overrides, so it is authoritative here; letting
// raw process variables beat it would open a second override channel.
func (s *Stack) environment() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	env["POSTGRES_USER"] = s.cfg.Admin.User
	env["POSTGRES_PASSWORD"] = s.cfg.Admin.Password
	env["POSTGRES_DB"] = s.cfg.Admin.Database
	env["APP_USER"] = s.cfg.App.User
	env["APP_PASSWORD"] = s.cfg.App.Password
	env["APP_DB"] = s.cfg.App.Database
	env["RESTART_POLICY"] = s.cfg.RestartPolicy
	return env
}

// Up creates volumes and networks, then starts every service in dependency
// order. An existing service container is replaced.
func (s *Stack) Up(ctx context.Context) error {
	stack, err := s.load()
	if err != nil {
		return err
	}

	prov := NewProvisioner(s.docker, s.log)
	for _, svc := range stack.Services {
		if len(svc.Networks) == 0 {
			if _, err := prov.EnsureNetwork(stackDefaultNetwork); err != nil {
				return err
			}
			break
		}
	}
	for _, net := range stack.Networks {
		if net.External {
			continue
		}
		if _, err := prov.EnsureNetwork(stackPrefix + net.Name); err != nil {
			return err
		}
	}
	for _, vol := range stack.Volumes {
		if vol.External {
			continue
		}
		if _, err := prov.EnsureVolume(stackPrefix + vol.Name); err != nil {
			return err
		}
	}

	for _, svc := range compose.StartOrder(stack.Services) {
		if err := s.upService(ctx, svc); err != nil {
			return fmt.Errorf("service %s: %w", svc.Name, err)
		}
	}
	return nil
}

func (s *Stack) upService(ctx context.Context, svc compose.Service) error {
	name := stackPrefix + svc.Name

	// Replace any prior container of the same name.
	if info, err := s.docker.InspectContainer(name); err == nil {
		timeout := stopTimeout
		s.docker.StopContainer(info.ID, &timeout)
		if err := s.docker.RemoveContainer(info.ID, docker.RemoveOptions{Force: true}); err != nil {
			return err
		}
	} else if !errors.Is(err, docker.ErrContainerNotFound) {
		return err
	}

	image := svc.Image
	if svc.Build != nil {
		image = name + ":local"
		contextDir := svc.Build.Context
		if !filepath.IsAbs(contextDir) {
			contextDir = filepath.Join(filepath.Dir(s.cfg.ComposeFile), contextDir)
		}
		s.log.Info("building service image", "service", svc.Name, "context", contextDir)
		if err := s.docker.BuildImage(contextDir, docker.BuildOptions{
			Tags:       []string{image},
			Dockerfile: svc.Build.Dockerfile,
			BuildArgs:  svc.Build.Args,
		}); err != nil {
			return err
		}
	} else {
		exists, err := s.docker.ImageExists(image)
		if err != nil {
			return err
		}
		if !exists {
			s.log.Info("pulling service image", "service", svc.Name, "image", image)
			if err := s.docker.PullImage(image, docker.PullOptions{}); err != nil {
				return err
			}
		}
	}

	spec := docker.ContainerSpec{
		Name:          name,
		Image:         image,
		Command:       svc.Command,
		Env:           svc.Environment,
		RestartPolicy: docker.RestartPolicy{Name: string(svc.Restart)},
		Labels: map[string]string{
			docker.LabelManaged: "true",
			docker.LabelService: svc.Name,
		},
	}
	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, docker.PortBinding{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}
	for _, vm := range svc.Volumes {
		source := vm.Source
		if vm.Type == compose.VolumeMountTypeVolume {
			source = stackPrefix + source
		} else if !filepath.IsAbs(source) {
			abs, err := filepath.Abs(source)
			if err != nil {
				return err
			}
			source = abs
		}
		spec.Volumes = append(spec.Volumes, docker.VolumeMount{
			Source:   source,
			Target:   vm.Target,
			ReadOnly: vm.ReadOnly,
		})
	}
	if len(svc.Networks) == 0 {
		spec.Networks = []string{stackDefaultNetwork}
	}
	for _, net := range svc.Networks {
		spec.Networks = append(spec.Networks, stackPrefix+net)
	}
	if hc := svc.HealthCheck; hc != nil {
		dhc := &docker.HealthCheck{Test: hc.Test, Retries: hc.Retries}
		dhc.Interval, _ = time.ParseDuration(hc.Interval)
		dhc.Timeout, _ = time.ParseDuration(hc.Timeout)
		dhc.StartPeriod, _ = time.ParseDuration(hc.StartPeriod)
		spec.HealthCheck = dhc
	}

	id, err := s.docker.CreateContainer(spec)
	if err != nil {
		return err
	}
	if err := s.docker.StartContainer(id); err != nil {
		return err
	}
	fmt.Fprintf(s.Out, "started %s\n", name)
	return nil
}

// Down stops and removes every service container in reverse dependency
// order. Named volumes persist.
func (s *Stack) Down(ctx context.Context) error {
	stack, err := s.load()
	if err != nil {
		return err
	}

	for _, svc := range compose.StopOrder(stack.Services) {
		name := stackPrefix + svc.Name
		info, err := s.docker.InspectContainer(name)
		if err != nil {
			if errors.Is(err, docker.ErrContainerNotFound) {
				continue
			}
			return err
		}
		timeout := stopTimeout
		s.docker.StopContainer(info.ID, &timeout)
		if err := s.docker.RemoveContainer(info.ID, docker.RemoveOptions{Force: true}); err != nil {
			return err
		}
		fmt.Fprintf(s.Out, "removed %s\n", name)
	}
	return nil
}

// Status reports each declared service's container state.
func (s *Stack) Status(ctx context.Context) error {
	stack, err := s.load()
	if err != nil {
		return err
	}

	for _, svc := range stack.Services {
		name := stackPrefix + svc.Name
		info, err := s.docker.InspectContainer(name)
		if err != nil {
			if errors.Is(err, docker.ErrContainerNotFound) {
				fmt.Fprintf(s.Out, "%-28s not created\n", name)
				continue
			}
			return err
		}
		state := info.State
		if info.Health != "" {
			state += " (" + info.Health + ")"
		}
		fmt.Fprintf(s.Out, "%-28s %s\n", name, state)
	}
	return nil
}

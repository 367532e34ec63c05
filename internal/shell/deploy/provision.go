package deploy

import (
	"errors"
	"log/slog"

	"github.com/artpar/dbstack/internal/shell/docker"
)

// =============================================================================
// Resource Provisioner
// =============================================================================

// Provisioner ensures the deployment's network and volume exist. Both
// operations are idempotent: an existing resource is success, not an error.
type Provisioner struct {
	docker docker.Client
	log    *slog.Logger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(cli docker.Client, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{docker: cli, log: logger}
}

// EnsureNetwork creates the named bridge network if it does not exist.
// Returns true when the network was created by this call.
func (p *Provisioner) EnsureNetwork(name string) (bool, error) {
	if _, err := p.docker.InspectNetwork(name); err == nil {
		p.log.Info("network already exists", "network", name)
		return false, nil
	} else if !errors.Is(err, docker.ErrNetworkNotFound) {
		return false, err
	}

	if _, err := p.docker.CreateNetwork(docker.NetworkSpec{
		Name:   name,
		Driver: "bridge",
		Labels: map[string]string{docker.LabelManaged: "true"},
	}); err != nil {
		// A concurrent create is still the desired end state.
		if errors.Is(err, docker.ErrNetworkAlreadyExists) {
			p.log.Info("network already exists", "network", name)
			return false, nil
		}
		return false, err
	}

	p.log.Info("network created", "network", name)
	return true, nil
}

// EnsureVolume creates the named volume if it does not exist.
// Returns true when the volume was created by this call.
func (p *Provisioner) EnsureVolume(name string) (bool, error) {
	exists, err := p.docker.VolumeExists(name)
	if err != nil {
		return false, err
	}
	if exists {
		p.log.Info("volume already exists", "volume", name)
		return false, nil
	}

	if _, err := p.docker.CreateVolume(docker.VolumeSpec{
		Name:   name,
		Labels: map[string]string{docker.LabelManaged: "true"},
	}); err != nil {
		return false, err
	}

	p.log.Info("volume created", "volume", name)
	return true, nil
}

package deploy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/shell/docker"
	"github.com/docker/docker/pkg/stdcopy"
)

// =============================================================================
// Lifecycle Manager
// =============================================================================

// Manager operates on the already-deployed instance: start, stop, restart,
// status, remove, logs, shell, connect, backup. Prompts read from In and
// write to Out so tests can script the confirmations.
type Manager struct {
	docker docker.Client
	cfg    *config.Config
	log    *slog.Logger

	In  io.Reader
	Out io.Writer
}

// NewManager creates a Manager bound to stdin/stdout.
func NewManager(cli docker.Client, cfg *config.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{docker: cli, cfg: cfg, log: logger, In: os.Stdin, Out: os.Stdout}
}

// Start starts the stopped instance.
func (m *Manager) Start() error {
	info, err := m.docker.InspectContainer(m.cfg.Container)
	if err != nil {
		return err
	}
	if err := m.docker.StartContainer(info.ID); err != nil {
		if errors.Is(err, docker.ErrContainerAlreadyRunning) {
			fmt.Fprintf(m.Out, "%s is already running\n", m.cfg.Container)
			return nil
		}
		return err
	}
	fmt.Fprintf(m.Out, "%s started\n", m.cfg.Container)
	return nil
}

// Stop stops the running instance.
func (m *Manager) Stop() error {
	info, err := m.docker.InspectContainer(m.cfg.Container)
	if err != nil {
		return err
	}
	timeout := stopTimeout
	if err := m.docker.StopContainer(info.ID, &timeout); err != nil {
		if errors.Is(err, docker.ErrContainerNotRunning) {
			fmt.Fprintf(m.Out, "%s is not running\n", m.cfg.Container)
			return nil
		}
		return err
	}
	fmt.Fprintf(m.Out, "%s stopped\n", m.cfg.Container)
	return nil
}

// Restart stops then starts the instance.
func (m *Manager) Restart() error {
	if err := m.Stop(); err != nil {
		return err
	}
	return m.Start()
}

// InstanceStatus aggregates the state a status report shows.
type InstanceStatus struct {
	Exists        bool
	State         string
	Health        string
	Image         string
	OnNetwork     bool
	VolumePresent bool
	Ready         bool
}

// Status collects running state, health, network membership, volume
// presence, and a quick readiness probe.
func (m *Manager) Status() (*InstanceStatus, error) {
	st := &InstanceStatus{}

	volExists, err := m.docker.VolumeExists(m.cfg.Volume)
	if err != nil {
		return nil, err
	}
	st.VolumePresent = volExists

	info, err := m.docker.InspectContainer(m.cfg.Container)
	if err != nil {
		if errors.Is(err, docker.ErrContainerNotFound) {
			return st, nil
		}
		return nil, err
	}

	st.Exists = true
	st.State = info.State
	st.Health = info.Health
	st.Image = info.Image
	for _, n := range info.Networks {
		if n == m.cfg.Network {
			st.OnNetwork = true
		}
	}
	if info.Status == docker.ContainerStatusRunning {
		st.Ready = probeReady(m.docker, info.ID, m.cfg.Admin)
	}
	return st, nil
}

// PrintStatus writes the status report.
func (m *Manager) PrintStatus(st *InstanceStatus) {
	if !st.Exists {
		fmt.Fprintf(m.Out, "%s: not deployed (volume present: %v)\n", m.cfg.Container, st.VolumePresent)
		return
	}
	fmt.Fprintf(m.Out, "%s\n", m.cfg.Container)
	fmt.Fprintf(m.Out, "  state:    %s\n", st.State)
	if st.Health != "" {
		fmt.Fprintf(m.Out, "  health:   %s\n", st.Health)
	}
	fmt.Fprintf(m.Out, "  image:    %s\n", st.Image)
	fmt.Fprintf(m.Out, "  network:  %s (attached: %v)\n", m.cfg.Network, st.OnNetwork)
	fmt.Fprintf(m.Out, "  volume:   %s (present: %v)\n", m.cfg.Volume, st.VolumePresent)
	fmt.Fprintf(m.Out, "  ready:    %v\n", st.Ready)
}

// Remove tears down the deployment with per-resource confirmation. Volume
// destruction is irreversible data loss and requires a second confirmation.
// Force skips all prompts.
func (m *Manager) Remove(force bool) error {
	reader := bufio.NewReader(m.In)

	if info, err := m.docker.InspectContainer(m.cfg.Container); err == nil {
		if force || m.confirm(reader, fmt.Sprintf("Remove container %s?", m.cfg.Container)) {
			timeout := stopTimeout
			m.docker.StopContainer(info.ID, &timeout)
			if err := m.docker.RemoveContainer(info.ID, docker.RemoveOptions{Force: true}); err != nil {
				return err
			}
			fmt.Fprintf(m.Out, "container %s removed\n", m.cfg.Container)
		}
	} else if !errors.Is(err, docker.ErrContainerNotFound) {
		return err
	}

	if _, err := m.docker.InspectNetwork(m.cfg.Network); err == nil {
		if force || m.confirm(reader, fmt.Sprintf("Remove network %s?", m.cfg.Network)) {
			if err := m.docker.RemoveNetwork(m.cfg.Network); err != nil {
				return err
			}
			fmt.Fprintf(m.Out, "network %s removed\n", m.cfg.Network)
		}
	} else if !errors.Is(err, docker.ErrNetworkNotFound) {
		return err
	}

	volExists, err := m.docker.VolumeExists(m.cfg.Volume)
	if err != nil {
		return err
	}
	if volExists {
		if force || (m.confirm(reader, fmt.Sprintf("Remove volume %s? ALL DATA WILL BE LOST.", m.cfg.Volume)) &&
			m.confirm(reader, "Are you absolutely sure?")) {
			if err := m.docker.RemoveVolume(m.cfg.Volume, true); err != nil {
				return err
			}
			fmt.Fprintf(m.Out, "volume %s removed\n", m.cfg.Volume)
		} else {
			fmt.Fprintf(m.Out, "volume %s kept\n", m.cfg.Volume)
		}
	}

	return nil
}

func (m *Manager) confirm(reader *bufio.Reader, prompt string) bool {
	fmt.Fprintf(m.Out, "%s [y/N]: ", prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// Logs streams the instance's logs to Out, optionally following.
func (m *Manager) Logs(follow bool, tail string) error {
	info, err := m.docker.InspectContainer(m.cfg.Container)
	if err != nil {
		return err
	}
	if tail == "" {
		tail = "100"
	}
	reader, err := m.docker.ContainerLogs(info.ID, docker.LogOptions{Follow: follow, Tail: tail})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = stdcopy.StdCopy(m.Out, m.Out, reader)
	return err
}

// Shell opens an interactive shell inside the instance. This spawns the
// docker CLI because an interactive TTY session belongs to the terminal,
// not to the SDK stream plumbing.
func (m *Manager) Shell() error {
	return m.runInteractive("docker", "exec", "-it", m.cfg.Container, "bash")
}

// Connect opens an interactive database session as the given principal.
func (m *Manager) Connect(p config.Principal) error {
	return m.runInteractive("docker", "exec", "-it",
		"-e", "PGPASSWORD="+p.Password,
		m.cfg.Container, "psql", "-U", p.User, "-d", p.Database)
}

// Backup invokes the in-image backup utility and reports its output.
func (m *Manager) Backup() error {
	info, err := m.docker.InspectContainer(m.cfg.Container)
	if err != nil {
		return err
	}
	res, err := m.docker.Exec(info.ID, []string{backupPath})
	if err != nil {
		return err
	}
	fmt.Fprint(m.Out, res.Output)
	if res.ExitCode != 0 {
		return fmt.Errorf("backup exited %d", res.ExitCode)
	}
	fmt.Fprintln(m.Out, "backup complete")
	return nil
}

func (m *Manager) runInteractive(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

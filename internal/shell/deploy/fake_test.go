package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/shell/docker"
)

// =============================================================================
// Fake Docker Client
// =============================================================================

// fakeClient is an in-memory docker.Client recording every mutation.
type fakeClient struct {
	containers map[string]*docker.ContainerInfo
	specs      map[string]docker.ContainerSpec
	networks   map[string]bool
	volumes    map[string]bool
	images     map[string]bool

	execFn   func(containerID string, cmd []string) (*docker.ExecResult, error)
	pushErrs map[string]error
	pullErr  error

	createdContainers []string
	removedContainers []string
	createdVolumes    []string
	removedVolumes    []string
	networkCreates    int
	volumeCreates     int
	buildCalls        int
	pushed            []string
	pulled            []string
	removedImages     []string

	nextID int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		containers: make(map[string]*docker.ContainerInfo),
		specs:      make(map[string]docker.ContainerSpec),
		networks:   make(map[string]bool),
		volumes:    make(map[string]bool),
		images:     make(map[string]bool),
		pushErrs:   make(map[string]error),
	}
}

func (f *fakeClient) find(ref string) *docker.ContainerInfo {
	if c, ok := f.containers[ref]; ok {
		return c
	}
	for _, c := range f.containers {
		if c.ID == ref {
			return c
		}
	}
	return nil
}

func (f *fakeClient) CreateContainer(spec docker.ContainerSpec) (string, error) {
	if f.find(spec.Name) != nil {
		return "", docker.NewDockerError("CreateContainer", "container", spec.Name, "container already exists", docker.ErrContainerAlreadyExists)
	}
	f.nextID++
	id := fmt.Sprintf("id-%d", f.nextID)
	f.containers[spec.Name] = &docker.ContainerInfo{
		ID:       id,
		Name:     spec.Name,
		Image:    spec.Image,
		Status:   docker.ContainerStatusCreated,
		State:    "created",
		Networks: spec.Networks,
		Labels:   spec.Labels,
	}
	f.specs[spec.Name] = spec
	f.createdContainers = append(f.createdContainers, spec.Name)
	return id, nil
}

func (f *fakeClient) StartContainer(containerID string) error {
	c := f.find(containerID)
	if c == nil {
		return docker.NewDockerError("StartContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	c.Status = docker.ContainerStatusRunning
	c.State = "running"
	return nil
}

func (f *fakeClient) StopContainer(containerID string, timeout *time.Duration) error {
	c := f.find(containerID)
	if c == nil {
		return docker.NewDockerError("StopContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	c.Status = docker.ContainerStatusExited
	c.State = "exited"
	return nil
}

func (f *fakeClient) RemoveContainer(containerID string, opts docker.RemoveOptions) error {
	c := f.find(containerID)
	if c == nil {
		return docker.NewDockerError("RemoveContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	delete(f.containers, c.Name)
	f.removedContainers = append(f.removedContainers, c.Name)
	return nil
}

func (f *fakeClient) InspectContainer(containerID string) (*docker.ContainerInfo, error) {
	c := f.find(containerID)
	if c == nil {
		return nil, docker.NewDockerError("InspectContainer", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeClient) ListContainers(opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	var out []docker.ContainerInfo
	for _, c := range f.containers {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeClient) ContainerLogs(containerID string, opts docker.LogOptions) (io.ReadCloser, error) {
	if f.find(containerID) == nil {
		return nil, docker.NewDockerError("ContainerLogs", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeClient) Exec(containerID string, cmd []string) (*docker.ExecResult, error) {
	if f.find(containerID) == nil {
		return nil, docker.NewDockerError("Exec", "container", containerID, "container not found", docker.ErrContainerNotFound)
	}
	if f.execFn != nil {
		return f.execFn(containerID, cmd)
	}
	return &docker.ExecResult{ExitCode: 0}, nil
}

func (f *fakeClient) CreateNetwork(spec docker.NetworkSpec) (string, error) {
	if f.networks[spec.Name] {
		return "", docker.NewDockerError("CreateNetwork", "network", spec.Name, "network already exists", docker.ErrNetworkAlreadyExists)
	}
	f.networks[spec.Name] = true
	f.networkCreates++
	return spec.Name, nil
}

func (f *fakeClient) RemoveNetwork(networkID string) error {
	if !f.networks[networkID] {
		return docker.NewDockerError("RemoveNetwork", "network", networkID, "network not found", docker.ErrNetworkNotFound)
	}
	delete(f.networks, networkID)
	return nil
}

func (f *fakeClient) InspectNetwork(networkID string) (*docker.NetworkInfo, error) {
	if !f.networks[networkID] {
		return nil, docker.NewDockerError("InspectNetwork", "network", networkID, "network not found", docker.ErrNetworkNotFound)
	}
	return &docker.NetworkInfo{ID: networkID, Name: networkID, Driver: "bridge"}, nil
}

func (f *fakeClient) CreateVolume(spec docker.VolumeSpec) (string, error) {
	f.volumes[spec.Name] = true
	f.volumeCreates++
	f.createdVolumes = append(f.createdVolumes, spec.Name)
	return spec.Name, nil
}

func (f *fakeClient) RemoveVolume(volumeName string, force bool) error {
	if !f.volumes[volumeName] {
		return docker.NewDockerError("RemoveVolume", "volume", volumeName, "volume not found", docker.ErrVolumeNotFound)
	}
	delete(f.volumes, volumeName)
	f.removedVolumes = append(f.removedVolumes, volumeName)
	return nil
}

func (f *fakeClient) VolumeExists(volumeName string) (bool, error) {
	return f.volumes[volumeName], nil
}

func (f *fakeClient) BuildImage(contextDir string, opts docker.BuildOptions) error {
	f.buildCalls++
	for _, tag := range opts.Tags {
		f.images[tag] = true
	}
	return nil
}

func (f *fakeClient) TagImage(source, target string) error {
	if !f.images[source] {
		return docker.NewDockerError("TagImage", "image", source, "image not found", docker.ErrImageNotFound)
	}
	f.images[target] = true
	return nil
}

func (f *fakeClient) PushImage(ref string) error {
	f.pushed = append(f.pushed, ref)
	return f.pushErrs[ref]
}

func (f *fakeClient) PullImage(ref string, opts docker.PullOptions) error {
	if f.pullErr != nil {
		return f.pullErr
	}
	f.pulled = append(f.pulled, ref)
	f.images[ref] = true
	return nil
}

func (f *fakeClient) RemoveImage(ref string) error {
	delete(f.images, ref)
	f.removedImages = append(f.removedImages, ref)
	return nil
}

func (f *fakeClient) ImageExists(ref string) (bool, error) {
	return f.images[ref], nil
}

func (f *fakeClient) Ping() error  { return nil }
func (f *fakeClient) Close() error { return nil }

// =============================================================================
// Fake SQL Connection
// =============================================================================

type fakeSQL struct {
	roles    map[string]bool
	dbs      map[string]bool
	settings map[string]string

	createdRoles []string
	createdDBs   []string
	grants       []string
	revokes      []string
	encryptions  []string

	pingErr      error
	roundTripErr error
	closed       bool
}

func newFakeSQL() *fakeSQL {
	return &fakeSQL{
		roles: make(map[string]bool),
		dbs:   make(map[string]bool),
		settings: map[string]string{
			"password_encryption": "scram-sha-256",
			"listen_addresses":    "*",
			"max_connections":     "100",
			"shared_buffers":      "256MB",
		},
	}
}

func (f *fakeSQL) Close() error                   { f.closed = true; return nil }
func (f *fakeSQL) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeSQL) ServerVersion(ctx context.Context) (string, error) { return "11.22", nil }

func (f *fakeSQL) Setting(ctx context.Context, name string) (string, error) {
	return f.settings[name], nil
}

func (f *fakeSQL) PasswordEncryption(ctx context.Context) (string, error) {
	return f.settings["password_encryption"], nil
}

func (f *fakeSQL) RoleExists(ctx context.Context, name string) (bool, error) {
	return f.roles[name], nil
}

func (f *fakeSQL) DatabaseExists(ctx context.Context, name string) (bool, error) {
	return f.dbs[name], nil
}

func (f *fakeSQL) CreateRole(ctx context.Context, name, password string) error {
	f.roles[name] = true
	f.createdRoles = append(f.createdRoles, name)
	return nil
}

func (f *fakeSQL) CreateDatabase(ctx context.Context, name, owner string) error {
	f.dbs[name] = true
	f.createdDBs = append(f.createdDBs, name)
	return nil
}

func (f *fakeSQL) GrantDatabase(ctx context.Context, database, role string) error {
	f.grants = append(f.grants, database+"->"+role)
	return nil
}

func (f *fakeSQL) RevokePublicConnect(ctx context.Context, database string) error {
	f.revokes = append(f.revokes, database)
	return nil
}

func (f *fakeSQL) SetPasswordEncryption(ctx context.Context, method string) error {
	f.settings["password_encryption"] = method
	f.encryptions = append(f.encryptions, method)
	return nil
}

func (f *fakeSQL) RoundTrip(ctx context.Context, table string) error {
	return f.roundTripErr
}

// =============================================================================
// Shared Fixtures
// =============================================================================

func testConfig() *config.Config {
	return &config.Config{
		Registry:      "registry.example.com",
		Namespace:     "platform",
		ImageName:     "secure-postgres",
		ImageTag:      "latest",
		Version:       "11.2.0",
		Admin:         config.Principal{User: "postgres", Password: "pw1", Database: "postgres"},
		App:           config.Principal{User: "app_user", Password: "pw2", Database: "app_db"},
		Network:       "dbstack-net",
		Volume:        "secure-postgres-data",
		Container:     "secure-postgres",
		RestartPolicy: "unless-stopped",
		HostPort:      5432,
		Health: config.HealthPolicy{
			Interval: 10 * time.Second, Timeout: 5 * time.Second,
			StartPeriod: 30 * time.Second, Retries: 5,
		},
		Readiness:    config.ReadinessPolicy{MaxAttempts: 3, Interval: time.Millisecond},
		BuildContext: "build/postgres",
		ComposeFile:  "docker-compose.yml",
	}
}

// readyExec makes readiness probes succeed and keeps the sentinel absent
// until touched.
func readyExec(sentinel *bool) func(string, []string) (*docker.ExecResult, error) {
	return func(containerID string, cmd []string) (*docker.ExecResult, error) {
		switch cmd[0] {
		case "pg_isready", "psql", healthcheckPath, backupPath:
			return &docker.ExecResult{ExitCode: 0}, nil
		case "test":
			if sentinel != nil && *sentinel {
				return &docker.ExecResult{ExitCode: 0}, nil
			}
			return &docker.ExecResult{ExitCode: 1}, nil
		case "touch":
			if sentinel != nil {
				*sentinel = true
			}
			return &docker.ExecResult{ExitCode: 0}, nil
		}
		return &docker.ExecResult{ExitCode: 0}, nil
	}
}

func fixedConnector(conn SQLConn, err error) Connector {
	return func(ctx context.Context, dsn string) (SQLConn, error) {
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/artpar/dbstack/internal/core/checks"
	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/shell/docker"
	"github.com/google/uuid"
)

// =============================================================================
// Verifier
// =============================================================================

// VerifyMode selects how much of the battery runs.
type VerifyMode int

const (
	// VerifyStandard runs everything except the ephemeral sibling probe.
	VerifyStandard VerifyMode = iota
	// VerifyQuick runs only existence, readiness, and connectivity.
	VerifyQuick
	// VerifyFull adds the ephemeral sibling reachability probe.
	VerifyFull
)

// expectedSettings is the configuration table the verifier compares against
// the running server. Mismatches are warnings, not hard failures.
var expectedSettings = map[string]string{
	"password_encryption": passwordEncryption,
	"listen_addresses":    "*",
	"max_connections":     "100",
	"shared_buffers":      "256MB",
}

// Verifier runs the post-deploy check battery against the running instance.
// Checks are independent; existence and readiness gate the rest only in the
// sense that a dead instance fails everything downstream anyway.
type Verifier struct {
	docker  docker.Client
	cfg     *config.Config
	connect Connector
	log     *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(cli docker.Client, cfg *config.Config, connect Connector, logger *slog.Logger) *Verifier {
	if connect == nil {
		connect = PostgresConnector
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{docker: cli, cfg: cfg, connect: connect, log: logger}
}

// Run executes the battery and returns the accumulated summary. The caller
// decides the exit status from Summary.OK().
func (v *Verifier) Run(ctx context.Context, mode VerifyMode) *checks.Summary {
	sum := &checks.Summary{}

	info := v.checkExistence(sum)
	if info == nil {
		return sum
	}
	v.checkReadiness(sum, info.ID)
	v.checkConnectivity(ctx, sum)

	if mode == VerifyQuick {
		sum.Skip("authentication mode", "quick mode")
		sum.Skip("health check script", "quick mode")
		sum.Skip("backup utility", "quick mode")
		sum.Skip("network membership", "quick mode")
		sum.Skip("persistence round trip", "quick mode")
		sum.Skip("configuration values", "quick mode")
		sum.Skip("privilege separation", "quick mode")
		return sum
	}

	v.checkAuthMode(ctx, sum)
	v.checkHealthScript(sum, info.ID)
	v.checkBackupUtility(sum, info.ID)
	v.checkNetworkMembership(sum, info)
	if mode == VerifyFull {
		v.checkSiblingReachability(ctx, sum)
	} else {
		sum.Skip("sibling reachability", "full mode only")
	}
	v.checkRoundTrip(ctx, sum)
	v.checkExpectedSettings(ctx, sum)
	v.checkPrivilegeSeparation(ctx, sum)

	return sum
}

func (v *Verifier) checkExistence(sum *checks.Summary) *docker.ContainerInfo {
	info, err := v.docker.InspectContainer(v.cfg.Container)
	if err != nil {
		sum.Record("instance exists", checks.Hard, err, "")
		return nil
	}
	sum.Record("instance exists", checks.Hard, nil, "")

	if info.Status != docker.ContainerStatusRunning {
		sum.Record("instance running", checks.Hard,
			fmt.Errorf("state is %s", info.State), "")
		return nil
	}
	sum.Record("instance running", checks.Hard, nil, "")
	return info
}

func (v *Verifier) checkReadiness(sum *checks.Summary, containerID string) {
	if probeReady(v.docker, containerID, v.cfg.Admin) {
		sum.Record("service readiness", checks.Hard, nil, "")
	} else {
		sum.Record("service readiness", checks.Hard,
			errors.New("readiness probe failed"), "")
	}
}

func (v *Verifier) checkConnectivity(ctx context.Context, sum *checks.Summary) {
	v.checkPrincipal(ctx, sum, "admin connection", v.cfg.AdminDSN("localhost"))
	v.checkPrincipal(ctx, sum, "app connection", v.cfg.AppDSN("localhost"))
}

func (v *Verifier) checkPrincipal(ctx context.Context, sum *checks.Summary, name, dsn string) {
	conn, err := v.connect(ctx, dsn)
	if err != nil {
		sum.Record(name, checks.Hard, err, "")
		return
	}
	defer conn.Close()
	sum.Record(name, checks.Hard, conn.Ping(ctx), "")
}

func (v *Verifier) checkAuthMode(ctx context.Context, sum *checks.Summary) {
	conn, err := v.connect(ctx, v.cfg.AdminDSN("localhost"))
	if err != nil {
		sum.Record("authentication mode", checks.Hard, err, "")
		return
	}
	defer conn.Close()

	mode, err := conn.PasswordEncryption(ctx)
	if err != nil {
		sum.Record("authentication mode", checks.Hard, err, "")
		return
	}
	if mode != passwordEncryption {
		sum.Record("authentication mode", checks.Hard,
			fmt.Errorf("got %s, want %s", mode, passwordEncryption), "")
		return
	}
	sum.Record("authentication mode", checks.Hard, nil, "")
}

func (v *Verifier) checkHealthScript(sum *checks.Summary, containerID string) {
	res, err := v.docker.Exec(containerID, []string{healthcheckPath})
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("exited %d: %s", res.ExitCode, strings.TrimSpace(res.Output))
	}
	sum.Record("health check script", checks.Hard, err, "")
}

func (v *Verifier) checkBackupUtility(sum *checks.Summary, containerID string) {
	res, err := v.docker.Exec(containerID, []string{"test", "-x", backupPath})
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("%s missing or not executable", backupPath)
	}
	sum.Record("backup utility", checks.Hard, err, "")
}

func (v *Verifier) checkNetworkMembership(sum *checks.Summary, info *docker.ContainerInfo) {
	for _, name := range info.Networks {
		if name == v.cfg.Network {
			sum.Record("network membership", checks.Hard, nil, "")
			return
		}
	}
	sum.Record("network membership", checks.Hard,
		fmt.Errorf("not attached to %s", v.cfg.Network), "")
}

// checkSiblingReachability starts a throwaway instance on the same network
// and probes the database from it. The sibling is removed on every path.
func (v *Verifier) checkSiblingReachability(ctx context.Context, sum *checks.Summary) {
	name := "verify-sibling-" + uuid.New().String()[:8]
	ref := v.cfg.ImageRepository() + ":" + v.cfg.ImageTag

	id, err := v.docker.CreateContainer(docker.ContainerSpec{
		Name:     name,
		Image:    ref,
		Command:  []string{"sleep", "120"},
		Networks: []string{v.cfg.Network},
		Labels:   map[string]string{docker.LabelManaged: "true", docker.LabelRole: "verify-sibling"},
	})
	if err != nil {
		sum.Record("sibling reachability", checks.Hard, err, "")
		return
	}
	defer v.docker.RemoveContainer(id, docker.RemoveOptions{Force: true})

	if err := v.docker.StartContainer(id); err != nil {
		sum.Record("sibling reachability", checks.Hard, err, "")
		return
	}

	res, err := v.docker.Exec(id, []string{
		"pg_isready", "-h", v.cfg.Container, "-U", v.cfg.Admin.User, "-d", v.cfg.Admin.Database,
	})
	if err == nil && res.ExitCode != 0 {
		err = fmt.Errorf("%s unreachable from %s", v.cfg.Container, name)
	}
	sum.Record("sibling reachability", checks.Hard, err, "")
}

// checkRoundTrip writes, reads, and drops a uniquely named throwaway table
// as the application principal to confirm persistence.
func (v *Verifier) checkRoundTrip(ctx context.Context, sum *checks.Summary) {
	conn, err := v.connect(ctx, v.cfg.AppDSN("localhost"))
	if err != nil {
		sum.Record("persistence round trip", checks.Hard, err, "")
		return
	}
	defer conn.Close()

	table := "verify_" + strings.ReplaceAll(uuid.New().String(), "-", "")
	sum.Record("persistence round trip", checks.Hard, conn.RoundTrip(ctx, table), "")
}

// checkExpectedSettings compares the expected configuration table against
// the running server. Mismatches are warnings.
func (v *Verifier) checkExpectedSettings(ctx context.Context, sum *checks.Summary) {
	conn, err := v.connect(ctx, v.cfg.AdminDSN("localhost"))
	if err != nil {
		sum.Record("configuration values", checks.Soft, err, "")
		return
	}
	defer conn.Close()

	for _, name := range settingNames() {
		want := expectedSettings[name]
		got, err := conn.Setting(ctx, name)
		if err == nil && got != want {
			err = fmt.Errorf("got %s, want %s", got, want)
		}
		sum.Record("setting "+name, checks.Soft, err, "")
	}
}

// checkPrivilegeSeparation confirms the application principal can create
// objects in its own database and is denied the administrative database.
// A missing denial is reported as a warning and flagged as a security
// concern rather than failing the battery.
func (v *Verifier) checkPrivilegeSeparation(ctx context.Context, sum *checks.Summary) {
	conn, err := v.connect(ctx, v.cfg.AppDSN("localhost"))
	if err != nil {
		sum.Record("app can create objects", checks.Hard, err, "")
	} else {
		table := "priv_" + strings.ReplaceAll(uuid.New().String(), "-", "")
		sum.Record("app can create objects", checks.Hard, conn.RoundTrip(ctx, table), "")
		conn.Close()
	}

	adminDB := config.DSNFor("localhost", v.cfg.HostPort, config.Principal{
		User:     v.cfg.App.User,
		Password: v.cfg.App.Password,
		Database: v.cfg.Admin.Database,
	})
	cross, err := v.connect(ctx, adminDB)
	if err == nil {
		pingErr := cross.Ping(ctx)
		cross.Close()
		if pingErr == nil {
			sum.Record("app denied admin database", checks.Soft,
				errors.New("application principal can reach the administrative database; review grants"), "")
			return
		}
	}
	sum.Record("app denied admin database", checks.Soft, nil, "")
}

func settingNames() []string {
	return []string{"password_encryption", "listen_addresses", "max_connections", "shared_buffers"}
}

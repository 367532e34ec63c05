package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/shell/docker"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// dataDir is the engine's data directory inside the container; the
	// deployment volume mounts here.
	dataDir = "/var/lib/postgresql/data"

	// sentinelPath marks completed one-time initialization. It lives inside
	// the volume so it survives container replacement.
	sentinelPath = dataDir + "/.dbstack-initialized"

	// passwordEncryption is the required authentication mode.
	passwordEncryption = "scram-sha-256"

	// In-image helper script locations.
	healthcheckPath = "/usr/local/bin/healthcheck.sh"
	backupPath      = "/usr/local/bin/backup.sh"
)

var stopTimeout = 30 * time.Second

// =============================================================================
// One-Time Initialization
// =============================================================================

// Initializer performs the one-time database setup on first startup against
// a fresh volume: strong password encryption, application principal and
// database, minimal grants, an admin self-test, and the sentinel marker.
// A present sentinel means no mutation at all.
type Initializer struct {
	docker  docker.Client
	cfg     *config.Config
	connect Connector
	log     *slog.Logger
}

// NewInitializer creates an Initializer.
func NewInitializer(cli docker.Client, cfg *config.Config, connect Connector, logger *slog.Logger) *Initializer {
	if connect == nil {
		connect = PostgresConnector
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Initializer{docker: cli, cfg: cfg, connect: connect, log: logger}
}

// Run executes the routine against the running instance. Every mutation is
// guarded by an existence check, so a re-run after a partial failure
// converges to the same end state.
func (i *Initializer) Run(ctx context.Context, containerID string) error {
	done, err := i.sentinelPresent(containerID)
	if err != nil {
		return err
	}
	if done {
		i.log.Info("already initialized, skipping", "container", i.cfg.Container)
		return nil
	}

	i.log.Info("running one-time initialization", "container", i.cfg.Container)

	conn, err := i.connect(ctx, i.cfg.AdminDSN("localhost"))
	if err != nil {
		return fmt.Errorf("admin connection failed: %w", err)
	}
	defer conn.Close()

	if err := conn.SetPasswordEncryption(ctx, passwordEncryption); err != nil {
		return err
	}

	roleExists, err := conn.RoleExists(ctx, i.cfg.App.User)
	if err != nil {
		return err
	}
	if !roleExists {
		if err := conn.CreateRole(ctx, i.cfg.App.User, i.cfg.App.Password); err != nil {
			return err
		}
		i.log.Info("application role created", "role", i.cfg.App.User)
	}

	dbExists, err := conn.DatabaseExists(ctx, i.cfg.App.Database)
	if err != nil {
		return err
	}
	if !dbExists {
		if err := conn.CreateDatabase(ctx, i.cfg.App.Database, i.cfg.App.User); err != nil {
			return err
		}
		i.log.Info("application database created", "database", i.cfg.App.Database)
	}

	if err := conn.GrantDatabase(ctx, i.cfg.App.Database, i.cfg.App.User); err != nil {
		return err
	}
	if err := conn.RevokePublicConnect(ctx, i.cfg.Admin.Database); err != nil {
		return err
	}

	// Admin connectivity self-test before declaring success.
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("admin self-test failed: %w", err)
	}

	return i.writeSentinel(containerID)
}

func (i *Initializer) sentinelPresent(containerID string) (bool, error) {
	res, err := i.docker.Exec(containerID, []string{"test", "-f", sentinelPath})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (i *Initializer) writeSentinel(containerID string) error {
	res, err := i.docker.Exec(containerID, []string{"touch", sentinelPath})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to write sentinel %s: %s", sentinelPath, res.Output)
	}
	i.log.Info("initialization complete", "sentinel", sentinelPath)
	return nil
}

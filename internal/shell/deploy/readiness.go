package deploy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/shell/docker"
	"github.com/docker/docker/pkg/stdcopy"
)

// =============================================================================
// Readiness Waiter
// =============================================================================

// waitReady polls the in-container readiness probe until it succeeds or the
// attempt ceiling is reached. Each attempt runs pg_isready followed by an
// authenticated trivial query, both through the local socket. The bound
// converts indefinite waiting into a failure wrapping ErrReadinessTimeout.
func waitReady(ctx context.Context, cli docker.Client, containerID string,
	admin config.Principal, policy config.ReadinessPolicy, logger *slog.Logger) error {

	interval := policy.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 30
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if probeReady(cli, containerID, admin) {
			logger.Info("service ready", "container", containerID, "attempts", attempt)
			return nil
		}
		logger.Debug("not ready yet", "container", containerID, "attempt", attempt, "max", maxAttempts)

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrReadinessTimeout, maxAttempts)
}

// probeReady runs one readiness attempt: pg_isready, then SELECT 1 as the
// administrative principal.
func probeReady(cli docker.Client, containerID string, admin config.Principal) bool {
	res, err := cli.Exec(containerID, []string{"pg_isready", "-U", admin.User, "-d", admin.Database})
	if err != nil || res.ExitCode != 0 {
		return false
	}

	res, err = cli.Exec(containerID, []string{
		"psql", "-U", admin.User, "-d", admin.Database, "-tAc", "SELECT 1",
	})
	return err == nil && res.ExitCode == 0
}

// recentLogs returns the tail of a container's log for timeout diagnostics.
// Failures here are swallowed; the caller already has a better error.
func recentLogs(cli docker.Client, containerID string, lines string) string {
	reader, err := cli.ContainerLogs(containerID, docker.LogOptions{Tail: lines})
	if err != nil {
		return ""
	}
	defer reader.Close()

	var buf bytes.Buffer
	stdcopy.StdCopy(&buf, &buf, reader)
	return buf.String()
}

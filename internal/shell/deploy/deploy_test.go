package deploy

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/artpar/dbstack/internal/shell/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploy_FreshInstance(t *testing.T) {
	cli := newFakeClient()
	sentinel := false
	cli.execFn = readyExec(&sentinel)
	sql := newFakeSQL()
	cfg := testConfig()

	d := NewDeployer(cli, cfg, fixedConnector(sql, nil), nil)
	require.NoError(t, d.Deploy(context.Background()))

	// Network and volume provisioned, image pulled fresh
	assert.True(t, cli.networks[cfg.Network])
	assert.True(t, cli.volumes[cfg.Volume])
	assert.Equal(t, []string{"registry.example.com/platform/secure-postgres:latest"}, cli.pulled)

	// One running instance with both principals' credentials
	info := cli.find(cfg.Container)
	require.NotNil(t, info)
	assert.Equal(t, docker.ContainerStatusRunning, info.Status)
	spec := cli.specs[cfg.Container]
	assert.Equal(t, "postgres", spec.Env["POSTGRES_USER"])
	assert.Equal(t, "app_user", spec.Env["APP_USER"])
	require.NotNil(t, spec.HealthCheck)
	assert.Equal(t, 5, spec.HealthCheck.Retries)

	// First startup ran the initialization routine
	assert.True(t, sentinel)
	assert.Equal(t, []string{"app_user"}, sql.createdRoles)
	assert.Equal(t, []string{"app_db"}, sql.createdDBs)
}

func TestDeploy_DestructiveReplace(t *testing.T) {
	cli := newFakeClient()
	sentinel := true
	cli.execFn = readyExec(&sentinel)
	cfg := testConfig()

	// Prior instance under the fixed name
	priorID, err := cli.CreateContainer(docker.ContainerSpec{Name: cfg.Container, Image: "old:tag"})
	require.NoError(t, err)
	require.NoError(t, cli.StartContainer(priorID))

	d := NewDeployer(cli, cfg, fixedConnector(newFakeSQL(), nil), nil)
	require.NoError(t, d.Deploy(context.Background()))

	// Exactly one instance remains and the prior container object is gone
	assert.Contains(t, cli.removedContainers, cfg.Container)
	info := cli.find(cfg.Container)
	require.NotNil(t, info)
	assert.NotEqual(t, priorID, info.ID)
	assert.Equal(t, docker.ContainerStatusRunning, info.Status)

	// The backing volume persists across the replace
	assert.NotContains(t, cli.removedVolumes, cfg.Volume)
}

func TestDeploy_PriorAbsenceIsNotAnError(t *testing.T) {
	cli := newFakeClient()
	sentinel := true
	cli.execFn = readyExec(&sentinel)

	d := NewDeployer(cli, testConfig(), fixedConnector(newFakeSQL(), nil), nil)
	assert.NoError(t, d.Deploy(context.Background()))
}

func TestDeploy_ReadinessBound(t *testing.T) {
	cli := newFakeClient()
	var attempts atomic.Int32
	cli.execFn = func(containerID string, cmd []string) (*docker.ExecResult, error) {
		if cmd[0] == "pg_isready" {
			attempts.Add(1)
		}
		return &docker.ExecResult{ExitCode: 1}, nil
	}
	cfg := testConfig()

	d := NewDeployer(cli, cfg, fixedConnector(newFakeSQL(), nil), nil)
	err := d.Deploy(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadinessTimeout))

	// Bounded: exactly MaxAttempts probes, then failure, no rollback
	assert.Equal(t, int32(cfg.Readiness.MaxAttempts), attempts.Load())
	assert.NotNil(t, cli.find(cfg.Container))
}

func TestDeploy_SentinelSkipsInitialization(t *testing.T) {
	cli := newFakeClient()
	sentinel := true
	cli.execFn = readyExec(&sentinel)
	sql := newFakeSQL()

	d := NewDeployer(cli, testConfig(), fixedConnector(sql, nil), nil)
	require.NoError(t, d.Deploy(context.Background()))

	// Present sentinel means no SQL mutation at all
	assert.Empty(t, sql.createdRoles)
	assert.Empty(t, sql.createdDBs)
	assert.Empty(t, sql.encryptions)
}

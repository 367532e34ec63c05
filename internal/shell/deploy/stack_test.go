package deploy

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stackYAML = `
services:
  redis:
    image: redis:6.2-alpine
    ports:
      - "6379:6379"
    volumes:
      - redis-data:/data
    restart: ${RESTART_POLICY}

  redis-commander:
    image: rediscommander/redis-commander:latest
    environment:
      REDIS_HOSTS: local:redis:6379
    depends_on:
      - redis

volumes:
  redis-data:
`

func writeStackFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(stackYAML), 0o644))
	return path
}

func newTestStack(t *testing.T) (*Stack, *fakeClient) {
	cli := newFakeClient()
	cfg := testConfig()
	cfg.ComposeFile = writeStackFile(t)
	s := NewStack(cli, cfg, nil)
	s.Out = &bytes.Buffer{}
	return s, cli
}

func TestStack_Up(t *testing.T) {
	s, cli := newTestStack(t)
	require.NoError(t, s.Up(context.Background()))

	// Dependency order: redis before its admin UI
	require.Equal(t, []string{"dbstack-redis", "dbstack-redis-commander"}, cli.createdContainers)
	assert.True(t, cli.volumes["dbstack-redis-data"])

	redis := cli.specs["dbstack-redis"]
	assert.Equal(t, "redis:6.2-alpine", redis.Image)
	assert.Equal(t, "unless-stopped", redis.RestartPolicy.Name)
	require.Len(t, redis.Ports, 1)
	assert.Equal(t, 6379, redis.Ports[0].ContainerPort)
	require.Len(t, redis.Volumes, 1)
	assert.Equal(t, "dbstack-redis-data", redis.Volumes[0].Source)

	// Images were pulled because they were absent
	assert.Contains(t, cli.pulled, "redis:6.2-alpine")
}

func TestStack_UpAttachesDefaultNetwork(t *testing.T) {
	s, cli := newTestStack(t)
	require.NoError(t, s.Up(context.Background()))

	// Services without a declared network share one user-defined network so
	// the admin UI can resolve its redis host by name.
	assert.True(t, cli.networks["dbstack-default"])
	assert.Equal(t, []string{"dbstack-default"}, cli.specs["dbstack-redis"].Networks)
	assert.Equal(t, []string{"dbstack-default"}, cli.specs["dbstack-redis-commander"].Networks)
}

func TestStack_ConfigBeatsProcessEnvironment(t *testing.T) {
	t.Setenv("RESTART_POLICY", "always")

	s, cli := newTestStack(t)
	require.NoError(t, s.Up(context.Background()))

	// The loaded configuration is the single override channel; a raw process
	// variable must not change interpolation.
	assert.Equal(t, "unless-stopped", cli.specs["dbstack-redis"].RestartPolicy.Name)
}

func TestStack_UpReplacesExisting(t *testing.T) {
	s, cli := newTestStack(t)
	require.NoError(t, s.Up(context.Background()))
	require.NoError(t, s.Up(context.Background()))

	assert.Contains(t, cli.removedContainers, "dbstack-redis")
	assert.NotNil(t, cli.find("dbstack-redis"))
	assert.NotNil(t, cli.find("dbstack-redis-commander"))
}

func TestStack_Down(t *testing.T) {
	s, cli := newTestStack(t)
	require.NoError(t, s.Up(context.Background()))
	cli.removedContainers = nil

	require.NoError(t, s.Down(context.Background()))

	// Reverse dependency order, containers gone, named volume kept
	assert.Equal(t, []string{"dbstack-redis-commander", "dbstack-redis"}, cli.removedContainers)
	assert.Empty(t, cli.containers)
	assert.True(t, cli.volumes["dbstack-redis-data"])
}

func TestStack_DownWithNothingRunning(t *testing.T) {
	s, _ := newTestStack(t)
	assert.NoError(t, s.Down(context.Background()))
}

func TestStack_Status(t *testing.T) {
	s, _ := newTestStack(t)
	out := &bytes.Buffer{}
	s.Out = out

	require.NoError(t, s.Status(context.Background()))
	assert.Contains(t, out.String(), "dbstack-redis")
	assert.Contains(t, out.String(), "not created")
}

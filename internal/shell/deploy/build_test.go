package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/dbstack/internal/shell/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBuildContext(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("# test\n"), 0o644))
	}
	return dir
}

func TestCheckPreconditions_AllPresent(t *testing.T) {
	cfg := testConfig()
	cfg.BuildContext = writeBuildContext(t, requiredBuildFiles...)

	b := NewBuilder(newFakeClient(), cfg, nil)
	assert.NoError(t, b.CheckPreconditions())
}

func TestCheckPreconditions_ReportsAllMissing(t *testing.T) {
	cfg := testConfig()
	cfg.BuildContext = writeBuildContext(t, "Dockerfile", "postgresql.conf")

	b := NewBuilder(newFakeClient(), cfg, nil)
	err := b.CheckPreconditions()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreconditionFailed))
	assert.Contains(t, err.Error(), "pg_hba.conf")
	assert.Contains(t, err.Error(), "init-user-db.sh")
	assert.Contains(t, err.Error(), "healthcheck.sh")
	assert.Contains(t, err.Error(), "backup.sh")
}

func TestBuild_AbortsBeforeMutationWhenFilesMissing(t *testing.T) {
	cli := newFakeClient()
	cfg := testConfig()
	cfg.BuildContext = t.TempDir()

	b := NewBuilder(cli, cfg, nil)
	_, err := b.Build(context.Background(), BuildSpec{})
	require.Error(t, err)
	assert.Equal(t, 0, cli.buildCalls)
}

func TestBuild_TagAliasSet(t *testing.T) {
	cli := newFakeClient()
	cfg := testConfig()
	cfg.BuildContext = writeBuildContext(t, requiredBuildFiles...)

	b := NewBuilder(cli, cfg, nil)
	date := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	tags, err := b.Build(context.Background(), BuildSpec{Version: "11.2.0", Date: date})
	require.NoError(t, err)

	repo := "registry.example.com/platform/secure-postgres"
	assert.Equal(t, []string{repo + ":latest", repo + ":11.2.0", repo + ":20260829"}, tags)
	for _, tag := range tags {
		assert.True(t, cli.images[tag], tag)
	}
	assert.Equal(t, 1, cli.buildCalls)
}

func TestSmokeTest_CleansUpOnFailure(t *testing.T) {
	cli := newFakeClient()
	// Readiness never succeeds
	cli.execFn = func(containerID string, cmd []string) (*docker.ExecResult, error) {
		return &docker.ExecResult{ExitCode: 1}, nil
	}
	cfg := testConfig()

	b := NewBuilder(cli, cfg, nil)
	err := b.SmokeTest(context.Background(), "registry.example.com/platform/secure-postgres:latest")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadinessTimeout))

	// Ephemeral container and throwaway volume are gone on the failure path
	assert.Len(t, cli.removedContainers, 1)
	assert.Len(t, cli.removedVolumes, 1)
	assert.Empty(t, cli.containers)
	assert.Empty(t, cli.volumes)
}

func TestSmokeTest_CleansUpOnSuccess(t *testing.T) {
	cli := newFakeClient()
	sentinel := false
	cli.execFn = readyExec(&sentinel)
	cfg := testConfig()

	b := NewBuilder(cli, cfg, nil)
	require.NoError(t, b.SmokeTest(context.Background(), "img:latest"))
	assert.Empty(t, cli.containers)
	assert.Empty(t, cli.volumes)
}

func TestPush_ContinuesAfterIndividualFailure(t *testing.T) {
	cli := newFakeClient()
	tags := []string{"repo:latest", "repo:11.2.0", "repo:20260829"}
	cli.pushErrs["repo:11.2.0"] = errors.New("registry timeout")

	b := NewBuilder(cli, testConfig(), nil)
	err := b.Push(tags)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPushFailed))
	assert.Contains(t, err.Error(), "repo:11.2.0")

	// Every tag was still attempted
	assert.Equal(t, tags, cli.pushed)
}

func TestPush_AllSucceed(t *testing.T) {
	cli := newFakeClient()
	b := NewBuilder(cli, testConfig(), nil)
	assert.NoError(t, b.Push([]string{"repo:latest", "repo:11.2.0"}))
	assert.Len(t, cli.pushed, 2)
}

func TestVerifyPush_RemovesRepulledCopy(t *testing.T) {
	cli := newFakeClient()
	b := NewBuilder(cli, testConfig(), nil)

	require.NoError(t, b.VerifyPush("repo:latest"))
	assert.Equal(t, []string{"repo:latest"}, cli.pulled)
	assert.Equal(t, []string{"repo:latest"}, cli.removedImages)
}

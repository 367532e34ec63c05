package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/core/imageref"
	"github.com/artpar/dbstack/internal/shell/docker"
	"github.com/google/uuid"
)

// =============================================================================
// Image Builder / Publisher
// =============================================================================

// requiredBuildFiles are the files that must exist in the build context
// before the build is attempted. Missing any aborts with no image built.
var requiredBuildFiles = []string{
	"Dockerfile",
	"postgresql.conf",
	"pg_hba.conf",
	"init-user-db.sh",
	"healthcheck.sh",
	"backup.sh",
}

// Builder builds, smoke-tests, and publishes the hardened database image.
type Builder struct {
	docker docker.Client
	cfg    *config.Config
	log    *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(cli docker.Client, cfg *config.Config, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{docker: cli, cfg: cfg, log: logger}
}

// BuildSpec carries the per-invocation build parameters.
type BuildSpec struct {
	Version   string    // semantic version tag; cfg.Version when empty
	Date      time.Time // build date stamp; now when zero
	NoCache   bool
	SmokeTest bool // start an ephemeral instance to validate the image
}

// CheckPreconditions verifies every required build file is present. All
// missing files are reported at once.
func (b *Builder) CheckPreconditions() error {
	var missing []string
	for _, name := range requiredBuildFiles {
		path := filepath.Join(b.cfg.BuildContext, name)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing build files in %s: %s",
			ErrPreconditionFailed, b.cfg.BuildContext, strings.Join(missing, ", "))
	}
	return nil
}

// Build builds the image and tags it with the full alias set. Returns the
// tags applied to the built artifact.
func (b *Builder) Build(ctx context.Context, spec BuildSpec) ([]string, error) {
	if err := b.CheckPreconditions(); err != nil {
		return nil, err
	}

	version := spec.Version
	if version == "" {
		version = b.cfg.Version
	}
	date := spec.Date
	if date.IsZero() {
		date = time.Now()
	}

	ref := imageref.Ref{
		Registry:   b.cfg.Registry,
		Namespace:  b.cfg.Namespace,
		Repository: b.cfg.ImageName,
	}
	tagNames := imageref.TagSet(b.cfg.ImageTag, version, date)
	tags := make([]string, len(tagNames))
	for i, name := range tagNames {
		tags[i] = ref.Tagged(name)
	}
	primary := tags[0]

	b.log.Info("building image", "tag", primary, "version", version, "context", b.cfg.BuildContext)

	err := b.docker.BuildImage(b.cfg.BuildContext, docker.BuildOptions{
		Tags:    []string{primary},
		NoCache: spec.NoCache,
		BuildArgs: map[string]string{
			"POSTGRES_USER":     b.cfg.Admin.User,
			"POSTGRES_PASSWORD": b.cfg.Admin.Password,
			"POSTGRES_DB":       b.cfg.Admin.Database,
			"APP_USER":          b.cfg.App.User,
			"APP_PASSWORD":      b.cfg.App.Password,
			"APP_DB":            b.cfg.App.Database,
			"VERSION":           version,
			"BUILD_DATE":        date.UTC().Format("2006-01-02"),
		},
		Labels: map[string]string{docker.LabelManaged: "true"},
	})
	if err != nil {
		return nil, err
	}

	// Remaining tags are aliases of the one built artifact.
	for _, tag := range tags[1:] {
		if err := b.docker.TagImage(primary, tag); err != nil {
			return nil, err
		}
		b.log.Info("image tagged", "tag", tag)
	}

	if spec.SmokeTest {
		if err := b.SmokeTest(ctx, primary); err != nil {
			return nil, err
		}
	}

	return tags, nil
}

// SmokeTest starts an ephemeral instance of the image with a throwaway
// volume, waits for readiness, runs one authenticated query and one
// health-check invocation, and removes the instance and volume on every
// exit path.
func (b *Builder) SmokeTest(ctx context.Context, ref string) (err error) {
	suffix := uuid.New().String()[:8]
	name := "smoke-" + suffix
	volume := "smoke-vol-" + suffix

	b.log.Info("smoke testing image", "image", ref, "container", name)

	if _, err = b.docker.CreateVolume(docker.VolumeSpec{Name: volume}); err != nil {
		return err
	}
	defer func() {
		if rmErr := b.docker.RemoveVolume(volume, true); rmErr != nil {
			b.log.Warn("failed to remove smoke test volume", "volume", volume, "error", rmErr)
		}
	}()

	containerID, err := b.docker.CreateContainer(docker.ContainerSpec{
		Name:  name,
		Image: ref,
		Env: map[string]string{
			"POSTGRES_USER":     b.cfg.Admin.User,
			"POSTGRES_PASSWORD": b.cfg.Admin.Password,
			"POSTGRES_DB":       b.cfg.Admin.Database,
		},
		Volumes: []docker.VolumeMount{{Source: volume, Target: "/var/lib/postgresql/data"}},
		Labels:  map[string]string{docker.LabelManaged: "true", docker.LabelRole: "smoke-test"},
	})
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := b.docker.RemoveContainer(containerID, docker.RemoveOptions{Force: true, RemoveVolumes: false}); rmErr != nil {
			b.log.Warn("failed to remove smoke test container", "container", name, "error", rmErr)
		}
	}()

	if err = b.docker.StartContainer(containerID); err != nil {
		return err
	}

	if err = waitReady(ctx, b.docker, containerID, b.cfg.Admin, b.cfg.Readiness, b.log); err != nil {
		return fmt.Errorf("smoke test: %w", err)
	}

	res, err := b.docker.Exec(containerID, []string{healthcheckPath})
	if err != nil {
		return fmt.Errorf("smoke test health check: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("smoke test health check exited %d: %s", res.ExitCode, res.Output)
	}

	b.log.Info("smoke test passed", "image", ref)
	return nil
}

// Push publishes every tag. An individual tag failure is recorded and the
// remaining tags are still attempted; the overall result is failure if any
// tag failed.
func (b *Builder) Push(tags []string) error {
	var failed []string
	for _, tag := range tags {
		b.log.Info("pushing", "tag", tag)
		if err := b.docker.PushImage(tag); err != nil {
			b.log.Error("push failed", "tag", tag, "error", err)
			failed = append(failed, tag)
			continue
		}
		b.log.Info("pushed", "tag", tag)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrPushFailed, strings.Join(failed, ", "))
	}
	return nil
}

// VerifyPush confirms registry visibility by re-pulling the primary tag,
// then deletes the pulled copy. The originally built image is untouched.
func (b *Builder) VerifyPush(primary string) error {
	b.log.Info("verifying registry visibility", "tag", primary)
	if err := b.docker.PullImage(primary, docker.PullOptions{}); err != nil {
		return fmt.Errorf("post-push verification: %w", err)
	}
	if err := b.docker.RemoveImage(primary); err != nil {
		b.log.Warn("failed to remove re-pulled image", "tag", primary, "error", err)
	}
	return nil
}

package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/dbstack/internal/core/config"
	"github.com/artpar/dbstack/internal/core/imageref"
	"github.com/artpar/dbstack/internal/shell/deploy"
	"github.com/artpar/dbstack/internal/shell/docker"
	"github.com/urfave/cli/v2"
)

// =============================================================================
// Shared Setup
// =============================================================================

// setup loads configuration, builds the logger, and connects to the Docker
// daemon. Every command goes through here so precondition failures surface
// before any external mutation.
func setup(c *cli.Context) (*config.Config, *slog.Logger, docker.Client, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, err
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	logger := config.SetupLogger(cfg)

	dcli, err := docker.NewDockerClient("")
	if err != nil {
		return nil, nil, nil, err
	}
	if err := dcli.Ping(); err != nil {
		dcli.Close()
		return nil, nil, nil, err
	}
	if cfg.RegistryUser != "" {
		if err := dcli.SetRegistryCredentials(cfg.Registry, cfg.RegistryUser, cfg.RegistryPassword); err != nil {
			dcli.Close()
			return nil, nil, nil, err
		}
	}
	return cfg, logger, dcli, nil
}

func buildTags(cfg *config.Config, version, date string) ([]string, error) {
	if version == "" {
		version = cfg.Version
	}
	when := time.Now()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", date)
		}
		when = parsed
	}
	ref := imageref.Ref{Registry: cfg.Registry, Namespace: cfg.Namespace, Repository: cfg.ImageName}
	names := imageref.TagSet(cfg.ImageTag, version, when)
	tags := make([]string, len(names))
	for i, n := range names {
		tags[i] = ref.Tagged(n)
	}
	return tags, nil
}

// =============================================================================
// Commands
// =============================================================================

func buildCommand() *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "build the database image and tag the alias set",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "test", Aliases: []string{"t"}, Usage: "smoke test the built image"},
			&cli.BoolFlag{Name: "no-cache", Usage: "build without the layer cache"},
			&cli.StringFlag{Name: "build-version", Usage: "semantic version tag (defaults to VERSION)"},
			&cli.StringFlag{Name: "date", Usage: "build date stamp, YYYY-MM-DD (defaults to today)"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, dcli, err := setup(c)
			if err != nil {
				return err
			}
			defer dcli.Close()

			spec := deploy.BuildSpec{
				Version:   c.String("build-version"),
				NoCache:   c.Bool("no-cache"),
				SmokeTest: c.Bool("test"),
			}
			if d := c.String("date"); d != "" {
				when, err := time.Parse("2006-01-02", d)
				if err != nil {
					return fmt.Errorf("invalid --date %q: want YYYY-MM-DD", d)
				}
				spec.Date = when
			}

			tags, err := deploy.NewBuilder(dcli, cfg, logger).Build(c.Context, spec)
			if err != nil {
				return err
			}
			for _, tag := range tags {
				fmt.Fprintln(c.App.Writer, "built", tag)
			}
			return nil
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "push every tag of the built image to the registry",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verify", Usage: "re-pull the primary tag after pushing"},
			&cli.StringFlag{Name: "build-version", Usage: "semantic version tag (defaults to VERSION)"},
			&cli.StringFlag{Name: "date", Usage: "build date stamp, YYYY-MM-DD (defaults to today)"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, dcli, err := setup(c)
			if err != nil {
				return err
			}
			defer dcli.Close()

			tags, err := buildTags(cfg, c.String("build-version"), c.String("date"))
			if err != nil {
				return err
			}
			builder := deploy.NewBuilder(dcli, cfg, logger)
			if err := builder.Push(tags); err != nil {
				return err
			}
			if c.Bool("verify") {
				return builder.VerifyPush(tags[0])
			}
			return nil
		},
	}
}

func deployCommand() *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "replace the running instance with a fresh deployment",
		Action: func(c *cli.Context) error {
			cfg, logger, dcli, err := setup(c)
			if err != nil {
				return err
			}
			defer dcli.Close()

			if err := deploy.NewDeployer(dcli, cfg, nil, logger).Deploy(c.Context); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s deployed and ready\n", cfg.Container)
			return nil
		},
	}
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "run the post-deploy check battery",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "quick", Aliases: []string{"q"}, Usage: "existence, readiness, and connectivity only"},
			&cli.BoolFlag{Name: "full", Usage: "include the ephemeral sibling reachability probe"},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, dcli, err := setup(c)
			if err != nil {
				return err
			}
			defer dcli.Close()

			mode := deploy.VerifyStandard
			switch {
			case c.Bool("quick"):
				mode = deploy.VerifyQuick
			case c.Bool("full"):
				mode = deploy.VerifyFull
			}

			sum := deploy.NewVerifier(dcli, cfg, nil, logger).Run(c.Context, mode)
			sum.Print(c.App.Writer)
			if !sum.OK() {
				return cli.Exit("verification failed", 1)
			}
			return nil
		},
	}
}

func stackCommand() *cli.Command {
	withStack := func(fn func(*deploy.Stack, *cli.Context) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			cfg, logger, dcli, err := setup(c)
			if err != nil {
				return err
			}
			defer dcli.Close()
			return fn(deploy.NewStack(dcli, cfg, logger), c)
		}
	}

	return &cli.Command{
		Name:  "stack",
		Usage: "operate the multi-database development stack",
		Subcommands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "start every declared service in dependency order",
				Action: withStack(func(s *deploy.Stack, c *cli.Context) error { return s.Up(c.Context) }),
			},
			{
				Name:   "down",
				Usage:  "stop and remove every service container (volumes persist)",
				Action: withStack(func(s *deploy.Stack, c *cli.Context) error { return s.Down(c.Context) }),
			},
			{
				Name:   "status",
				Usage:  "report each service container's state",
				Action: withStack(func(s *deploy.Stack, c *cli.Context) error { return s.Status(c.Context) }),
			},
		},
	}
}

func manageCommand() *cli.Command {
	withManager := func(fn func(*deploy.Manager, *config.Config, *cli.Context) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			cfg, logger, dcli, err := setup(c)
			if err != nil {
				return err
			}
			defer dcli.Close()
			return fn(deploy.NewManager(dcli, cfg, logger), cfg, c)
		}
	}

	return &cli.Command{
		Name:  "manage",
		Usage: "operate the deployed instance",
		Subcommands: []*cli.Command{
			{
				Name:  "start",
				Usage: "start the stopped instance",
				Action: withManager(func(m *deploy.Manager, _ *config.Config, _ *cli.Context) error {
					return m.Start()
				}),
			},
			{
				Name:  "stop",
				Usage: "stop the running instance",
				Action: withManager(func(m *deploy.Manager, _ *config.Config, _ *cli.Context) error {
					return m.Stop()
				}),
			},
			{
				Name:  "restart",
				Usage: "stop then start the instance",
				Action: withManager(func(m *deploy.Manager, _ *config.Config, _ *cli.Context) error {
					return m.Restart()
				}),
			},
			{
				Name:  "status",
				Usage: "show aggregate instance status",
				Action: withManager(func(m *deploy.Manager, _ *config.Config, _ *cli.Context) error {
					st, err := m.Status()
					if err != nil {
						return err
					}
					m.PrintStatus(st)
					return nil
				}),
			},
			{
				Name:  "remove",
				Usage: "remove container, network, and volume with confirmation",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "skip all confirmation prompts"},
				},
				Action: withManager(func(m *deploy.Manager, _ *config.Config, c *cli.Context) error {
					return m.Remove(c.Bool("yes"))
				}),
			},
			{
				Name:  "logs",
				Usage: "show instance logs",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "follow the log stream"},
					&cli.StringFlag{Name: "tail", Value: "100", Usage: "number of trailing lines"},
				},
				Action: withManager(func(m *deploy.Manager, _ *config.Config, c *cli.Context) error {
					return m.Logs(c.Bool("follow"), c.String("tail"))
				}),
			},
			{
				Name:  "shell",
				Usage: "open an interactive shell inside the instance",
				Action: withManager(func(m *deploy.Manager, _ *config.Config, _ *cli.Context) error {
					return m.Shell()
				}),
			},
			{
				Name:  "connect",
				Usage: "open an interactive database session",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "app", Usage: "connect as the application principal"},
				},
				Action: withManager(func(m *deploy.Manager, cfg *config.Config, c *cli.Context) error {
					p := cfg.Admin
					if c.Bool("app") {
						p = cfg.App
					}
					return m.Connect(p)
				}),
			},
			{
				Name:  "backup",
				Usage: "run the in-image backup utility",
				Action: withManager(func(m *deploy.Manager, _ *config.Config, _ *cli.Context) error {
					return m.Backup()
				}),
			},
		},
	}
}

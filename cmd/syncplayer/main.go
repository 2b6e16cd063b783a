// Command syncplayer runs the listening-room session server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"syncplayer/internal/app"
	"syncplayer/internal/config"
	"syncplayer/internal/database"
	"syncplayer/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// cli holds the state shared by every subcommand once flags are parsed.
type cli struct {
	cfgFile string
	cfg     *config.Config
	log     zerolog.Logger
}

// flagKeys binds persistent flags to config keys. Flags win over the
// environment and the config file.
var flagKeys = map[string]string{
	"port":      "http.port",
	"db-driver": "database.driver",
	"db-dsn":    "database.dsn",
	"log-level": "log.level",
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:          "syncplayer",
		Short:        "Real-time listening room server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.serve(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "config file (yaml, json or toml)")
	pf.Int("port", 0, "HTTP listen port")
	pf.String("db-driver", "", "database driver: sqlite3 or pgx")
	pf.String("db-dsn", "", "database file path or postgres URL")
	pf.String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP and websocket server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:       "migrate up|down",
			Short:     "Apply or roll back the database schema",
			Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
			ValidArgs: []string{"up", "down"},
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := database.Migrate(c.cfg.Database, args[0]); err != nil {
					return err
				}
				c.log.Info().Str("direction", args[0]).Msg("migrations applied")
				return nil
			},
		},
		newSeedCmd(c),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	v, err := config.NewViper(c.cfgFile)
	if err != nil {
		return err
	}
	if err := bindFlags(v, cmd); err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	c.cfg, c.log = cfg, log
	return nil
}

// bindFlags binds only the flags that were set, so unset flags do not mask
// the environment or the config file.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (c *cli) serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(c.cfg, c.log)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}

	<-ctx.Done()
	c.log.Info().Msg("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}

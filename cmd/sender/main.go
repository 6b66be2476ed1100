package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openmined/backuprelay/internal/sender"
	"github.com/openmined/backuprelay/internal/utils"
	"github.com/openmined/backuprelay/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "BACKUPRELAY"

var (
	home, _           = os.UserHomeDir()
	defaultConfigDir  = filepath.Join(home, ".backuprelay")
	defaultConfigName = "sender"
)

var envKeys = []string{
	"game_name",
	"watch_directory",
	"receiver_url",
	"backup_extensions",
	"backup_patterns",
	"ignore",
	"state_dir",
	"interval",
	"stability_window",
	"upload_timeout",
	"watch",
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "backuprelay-sender",
		Short:   "BackupRelay sender: watches a directory and ships finished backups",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closer, err := setupLogger(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()

			defer slog.Info("Bye!")
			return runDaemon(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().SortFlags = false
	root.PersistentFlags().StringP("config", "c", "", "Sender config file (yaml)")
	root.PersistentFlags().StringP("game", "g", "", "Game name, must match a collection on the receiver")
	root.PersistentFlags().StringP("watch-dir", "w", "", "Directory that receives finished backups")
	root.PersistentFlags().StringP("receiver", "r", "", "Receiver upload URL, e.g. http://host:8080/backup")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-file", "", "Also write logs to this file")

	root.AddCommand(newOnceCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func main() {
	// a missing .env is the common case
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runDaemon(ctx context.Context, cfg *sender.Config) error {
	slog.Info("backuprelay sender", "version", version.Version, "revision", version.Revision, "game", cfg.GameName)

	engine, tracker, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer tracker.Close()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	engine.Wait()
	return nil
}

// newEngine opens the tracking store for writing; the caller closes it.
func newEngine(cfg *sender.Config) (*sender.Engine, *sender.Tracker, error) {
	tracker := sender.NewTracker(cfg.StateDBPath())
	if err := tracker.Open(); err != nil {
		return nil, nil, err
	}

	scanner, err := sender.NewScanner(cfg.WatchDir, cfg.BackupExtensions, cfg.BackupPatterns, cfg.Ignore)
	if err != nil {
		tracker.Close()
		return nil, nil, err
	}

	var opts []sender.EngineOption
	if cfg.Watch {
		opts = append(opts, sender.WithWatcher(sender.NewWatcher(cfg.WatchDir, scanner.Accepts)))
	}

	return sender.NewEngine(cfg, scanner, tracker, sender.NewUploader(cfg), opts...), tracker, nil
}

func setupLogger(cmd *cobra.Command) (io.Closer, error) {
	return utils.SetupLogger(utils.LogOptions{
		Level: cmd.Flag("log-level").Value.String(),
		File:  cmd.Flag("log-file").Value.String(),
	})
}

// loadConfig merges, lowest to highest: defaults, config file,
// BACKUPRELAY_* environment, explicitly set flags.
func loadConfig(cmd *cobra.Command) (*sender.Config, error) {
	v := viper.New()

	if cmd.Flag("config").Changed {
		v.SetConfigFile(cmd.Flag("config").Value.String())
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(defaultConfigDir)
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetDefault("watch", true)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	v.BindPFlag("game_name", cmd.Flag("game"))
	v.BindPFlag("watch_directory", cmd.Flag("watch-dir"))
	v.BindPFlag("receiver_url", cmd.Flag("receiver"))

	cfg := &sender.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print BackupRelay version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.DetailedWithApp())
			return err
		},
	}
}

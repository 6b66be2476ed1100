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
	"github.com/openmined/backuprelay/internal/receiver"
	"github.com/openmined/backuprelay/internal/utils"
	"github.com/openmined/backuprelay/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "BACKUPRELAY"

var (
	home, _           = os.UserHomeDir()
	defaultConfigDir  = filepath.Join(home, ".backuprelay")
	defaultConfigName = "receiver"
)

// keys that may come from the environment without appearing in a config file
var envKeys = []string{
	"http.addr",
	"http.cert_file",
	"http.key_file",
	"http.rate_limit",
	"data_dir",
}

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "backuprelay-receiver",
		Short:   "BackupRelay receiver: accepts and retains game backups",
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

			srv, err := receiver.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			defer slog.Info("Bye!")
			if err := srv.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("receiver", "error", err)
				return err
			}
			return nil
		},
	}

	root.Flags().SortFlags = false
	root.Flags().StringP("bind", "b", receiver.DefaultAddr, "Address to bind the server")
	root.Flags().String("cert", "", "Path to the TLS certificate file")
	root.Flags().String("key", "", "Path to the TLS key file")
	root.Flags().StringP("data-dir", "d", receiver.DefaultDataDir, "Directory for the archive index and default archive roots")
	root.PersistentFlags().StringP("config", "c", "", "Receiver config file (yaml)")
	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-file", "", "Also write logs to this file")
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

func setupLogger(cmd *cobra.Command) (io.Closer, error) {
	return utils.SetupLogger(utils.LogOptions{
		Level: cmd.Flag("log-level").Value.String(),
		File:  cmd.Flag("log-file").Value.String(),
	})
}

// loadConfig merges, lowest to highest: flag defaults, config file,
// BACKUPRELAY_* environment, explicitly set flags.
func loadConfig(cmd *cobra.Command) (*receiver.Config, error) {
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
	} else {
		slog.Debug("config loaded", "path", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		v.BindEnv(key)
	}

	v.BindPFlag("http.addr", cmd.Flags().Lookup("bind"))
	v.BindPFlag("http.cert_file", cmd.Flags().Lookup("cert"))
	v.BindPFlag("http.key_file", cmd.Flags().Lookup("key"))
	v.BindPFlag("data_dir", cmd.Flags().Lookup("data-dir"))

	cfg := &receiver.Config{}
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

package receiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openmined/backuprelay/internal/receiver/archive"
	"github.com/openmined/backuprelay/internal/utils"
	"github.com/ulule/limiter/v3"
)

const (
	DefaultAddr = "0.0.0.0:8080"
)

var (
	home, _        = os.UserHomeDir()
	DefaultDataDir = filepath.Join(home, ".backuprelay", "receiver")
)

var ErrNoCollections = errors.New("config: at least one entry under games is required")

type Config struct {
	HTTP    HTTPConfig                           `mapstructure:"http"`
	DataDir string                               `mapstructure:"data_dir"`
	Games   map[string]*archive.CollectionConfig `mapstructure:"games"`
}

type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`
	RateLimit string `mapstructure:"rate_limit"` // ulule format, e.g. 30-M; empty disables
}

func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if (c.HTTP.CertFile == "") != (c.HTTP.KeyFile == "") {
		return fmt.Errorf("config: http.cert_file and http.key_file must be set together")
	}
	for _, path := range []*string{&c.HTTP.CertFile, &c.HTTP.KeyFile} {
		if *path == "" {
			continue
		}
		resolved, err := utils.ResolvePath(*path)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if !utils.FileExists(resolved) {
			return fmt.Errorf("config: %s not found", resolved)
		}
		*path = resolved
	}
	if c.HTTP.RateLimit != "" {
		if _, err := limiter.NewRateFromFormatted(c.HTTP.RateLimit); err != nil {
			return fmt.Errorf("config: http.rate_limit: %w", err)
		}
	}

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("config: data_dir: %w", err)
	}
	c.DataDir = dataDir

	if len(c.Games) == 0 {
		return ErrNoCollections
	}
	for name, game := range c.Games {
		if game == nil {
			continue
		}
		if err := game.Validate(); err != nil {
			return fmt.Errorf("config: games.%s: %w", name, err)
		}
		if game.ArchivePath != "" {
			if game.ArchivePath, err = utils.ResolvePath(game.ArchivePath); err != nil {
				return fmt.Errorf("config: games.%s.archive_path: %w", name, err)
			}
		}
	}

	return nil
}

// DBPath is the archive index location
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "receiver.db")
}

func (c *Config) TLSEnabled() bool {
	return c.HTTP.CertFile != "" && c.HTTP.KeyFile != ""
}

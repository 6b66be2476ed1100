package sender

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/backuprelay/internal/utils"
)

const (
	DefaultInterval        = 5 * time.Second
	DefaultStabilityWindow = 6 * time.Second
	DefaultUploadTimeout   = 10 * time.Minute
)

var (
	home, _              = os.UserHomeDir()
	DefaultStateDir      = filepath.Join(home, ".backuprelay", "sender")
	DefaultExtensions    = []string{".tar.gz", ".zip", ".tar"}
	regexUnsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

var (
	ErrNoGameName    = errors.New("config: game_name is required")
	ErrNoWatchDir    = errors.New("config: watch_directory is required")
	ErrNoReceiverURL = errors.New("config: receiver_url is required")
)

type Config struct {
	GameName         string        `mapstructure:"game_name"`
	WatchDir         string        `mapstructure:"watch_directory"`
	ReceiverURL      string        `mapstructure:"receiver_url"`
	BackupExtensions []string      `mapstructure:"backup_extensions"`
	BackupPatterns   []string      `mapstructure:"backup_patterns"`
	Ignore           []string      `mapstructure:"ignore"`
	StateDir         string        `mapstructure:"state_dir"`
	Interval         time.Duration `mapstructure:"interval"`
	StabilityWindow  time.Duration `mapstructure:"stability_window"`
	UploadTimeout    time.Duration `mapstructure:"upload_timeout"`
	Watch            bool          `mapstructure:"watch"`
}

// Validate checks required fields, fills defaults and normalizes paths in place.
func (c *Config) Validate() error {
	c.GameName = strings.TrimSpace(c.GameName)
	if c.GameName == "" {
		return ErrNoGameName
	}

	if c.WatchDir == "" {
		return ErrNoWatchDir
	}
	watchDir, err := utils.ResolvePath(c.WatchDir)
	if err != nil {
		return fmt.Errorf("config: watch_directory: %w", err)
	}
	c.WatchDir = watchDir

	if c.ReceiverURL == "" {
		return ErrNoReceiverURL
	}
	u, err := url.Parse(c.ReceiverURL)
	if err != nil {
		return fmt.Errorf("config: receiver_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: receiver_url %q must be an absolute http(s) url", c.ReceiverURL)
	}

	if c.StateDir == "" {
		c.StateDir = DefaultStateDir
	}
	stateDir, err := utils.ResolvePath(c.StateDir)
	if err != nil {
		return fmt.Errorf("config: state_dir: %w", err)
	}
	c.StateDir = stateDir

	if len(c.BackupExtensions) == 0 && len(c.BackupPatterns) == 0 {
		c.BackupExtensions = DefaultExtensions
	}
	c.BackupExtensions = normalizeExtensions(c.BackupExtensions)

	for _, pattern := range c.BackupPatterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("config: invalid backup pattern %q", pattern)
		}
	}

	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Interval < 0 {
		return fmt.Errorf("config: interval must be positive, got %s", c.Interval)
	}
	if c.StabilityWindow == 0 {
		c.StabilityWindow = DefaultStabilityWindow
	}
	if c.StabilityWindow < 0 {
		return fmt.Errorf("config: stability_window must be positive, got %s", c.StabilityWindow)
	}
	if c.UploadTimeout == 0 {
		c.UploadTimeout = DefaultUploadTimeout
	}
	if c.UploadTimeout < 0 {
		return fmt.Errorf("config: upload_timeout must be positive, got %s", c.UploadTimeout)
	}

	return nil
}

// StateDBPath is the tracking store location for this game
func (c *Config) StateDBPath() string {
	name := regexUnsafeFileChars.ReplaceAllString(c.GameName, "_")
	return filepath.Join(c.StateDir, name+".db")
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

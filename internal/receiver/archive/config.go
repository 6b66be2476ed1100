package archive

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/openmined/backuprelay/internal/utils"
)

const bytesPerGiB = 1 << 30

type S3Config struct {
	BucketName   string `mapstructure:"bucket_name"`
	Region       string `mapstructure:"region"`
	Prefix       string `mapstructure:"prefix"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

func (c *S3Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("bucket_name", c.BucketName),
		slog.String("region", c.Region),
		slog.String("prefix", c.Prefix),
		slog.String("endpoint", c.Endpoint),
		slog.String("access_key", utils.MaskSecret(c.AccessKey)),
		slog.String("secret_key", utils.MaskSecret(c.SecretKey)),
	)
}

func (c *S3Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("access_key and secret_key must be set together")
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid endpoint URL %q", c.Endpoint)
		}
	}
	c.Prefix = strings.Trim(c.Prefix, "/")
	if c.Prefix != "" {
		c.Prefix += "/"
	}
	return nil
}

// CollectionConfig is one entry of the receiver's games map
type CollectionConfig struct {
	ArchivePath string    `mapstructure:"archive_path"`
	MaxSizeGB   float64   `mapstructure:"max_size_gb"`
	S3          *S3Config `mapstructure:"s3"`
}

func (c *CollectionConfig) Validate() error {
	if c.ArchivePath != "" && c.S3 != nil {
		return fmt.Errorf("archive_path and s3 are mutually exclusive")
	}
	if c.S3 != nil {
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("s3: %w", err)
		}
	}
	return nil
}

// MaxSizeBytes converts the GiB budget; 0 means unlimited
func (c *CollectionConfig) MaxSizeBytes() int64 {
	if c.MaxSizeGB <= 0 {
		return 0
	}
	return int64(c.MaxSizeGB * bytesPerGiB)
}

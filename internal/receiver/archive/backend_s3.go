package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend keeps archives as objects under a bucket prefix. Payloads are
// spooled to a local staging directory; PutObject is the atomic publish.
type S3Backend struct {
	stager
	client *s3.Client
	config *S3Config
}

func NewS3Backend(client *s3.Client, cfg *S3Config, spoolDir string) *S3Backend {
	return &S3Backend{
		stager: stager{dir: spoolDir},
		client: client,
		config: cfg,
	}
}

func NewS3BackendWithConfig(ctx context.Context, cfg *S3Config, spoolDir string) (*S3Backend, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
	}
	// without static keys the default chain applies (env, shared config, instance role)
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	slog.Info("s3 backend", "config", cfg)
	return NewS3Backend(client, cfg, spoolDir), nil
}

func (b *S3Backend) Kind() string {
	return "s3"
}

func (b *S3Backend) Location() string {
	return "s3://" + b.config.BucketName + "/" + b.config.Prefix
}

func (b *S3Backend) key(name string) string {
	return b.config.Prefix + name
}

func (b *S3Backend) Publish(ctx context.Context, staged *Staged, name string) (*Object, error) {
	f, err := os.Open(staged.Path)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	defer func() {
		f.Close()
		b.Discard(staged)
	}()

	key := b.key(name)
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &b.config.BucketName,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(staged.Size),
	})
	if err != nil {
		return nil, fmt.Errorf("put object %s: %w", key, err)
	}

	// s3.PutObjectOutput does not carry LastModified
	return &Object{Key: key, Name: name, Size: staged.Size, ModifiedAt: time.Now().UTC()}, nil
}

func (b *S3Backend) Delete(ctx context.Context, key string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &b.config.BucketName,
		Key:    &key,
	})
	return err
}

// List returns the objects directly under the prefix
func (b *S3Backend) List(ctx context.Context) ([]*Object, error) {
	var objects []*Object

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.config.BucketName,
		Prefix: aws.String(b.config.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list objects: %w", err)
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, b.config.Prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			objects = append(objects, &Object{
				Key:        key,
				Name:       name,
				Size:       aws.ToInt64(obj.Size),
				ModifiedAt: aws.ToTime(obj.LastModified),
			})
		}
	}

	return objects, nil
}

var _ Backend = (*S3Backend)(nil)

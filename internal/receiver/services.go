package receiver

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/backuprelay/internal/receiver/archive"
)

type Services struct {
	Archive *archive.Service
}

func NewServices(ctx context.Context, config *Config, db *sqlx.DB) (*Services, error) {
	registry, err := archive.NewRegistry(ctx, config.DataDir, config.Games)
	if err != nil {
		return nil, fmt.Errorf("build collection registry: %w", err)
	}

	archiveSvc, err := archive.NewService(registry, db)
	if err != nil {
		return nil, err
	}

	return &Services{
		Archive: archiveSvc,
	}, nil
}

func (s *Services) Start(ctx context.Context) error {
	// the index must match the backends before the first request is served
	if err := s.Archive.Start(ctx); err != nil {
		return fmt.Errorf("start archive service: %w", err)
	}
	return nil
}

func (s *Services) Shutdown(ctx context.Context) error {
	if err := s.Archive.Shutdown(ctx); err != nil {
		return fmt.Errorf("stop archive service: %w", err)
	}
	return nil
}

package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openmined/backuprelay/internal/db"
	"github.com/openmined/backuprelay/internal/version"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

type Server struct {
	config *Config
	server *http.Server
	svc    *Services
}

// New opens the archive index and builds the collection registry.
func New(ctx context.Context, config *Config) (*Server, error) {
	conn, err := db.NewSqliteDB(db.WithPath(config.DBPath()))
	if err != nil {
		return nil, fmt.Errorf("open archive index: %w", err)
	}

	svc, err := NewServices(ctx, config, conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	handler, err := SetupRoutes(config, svc)
	if err != nil {
		svc.Shutdown(ctx)
		return nil, err
	}

	return &Server{
		config: config,
		svc:    svc,
		server: &http.Server{
			Addr:              config.HTTP.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("backuprelay receiver start", "version", version.Version, "revision", version.Revision, "data", s.config.DataDir)
	defer slog.Info("backuprelay receiver stop")

	if err := s.svc.Start(ctx); err != nil {
		s.svc.Shutdown(context.Background())
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := s.runHttpServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		return s.Stop()
	})

	return eg.Wait()
}

func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	httpErr := s.server.Shutdown(shutdownCtx)
	svcErr := s.svc.Shutdown(shutdownCtx)
	return errors.Join(httpErr, svcErr)
}

func (s *Server) runHttpServer() error {
	if s.config.TLSEnabled() {
		slog.Info("server start https", "addr", s.config.HTTP.Addr, "cert", s.config.HTTP.CertFile, "key", s.config.HTTP.KeyFile)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}

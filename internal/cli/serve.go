package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Brownie44l1/imagenet-api/internal/auth"
	"github.com/Brownie44l1/imagenet-api/internal/classifier"
	"github.com/Brownie44l1/imagenet-api/internal/handlers"
	"github.com/Brownie44l1/imagenet-api/internal/repository"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP classification service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Port = port
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (env PORT)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	p, err := a.loadPipeline()
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			a.logger.Warn("failed to release model", zap.Error(err))
		}
	}()

	opts := classifier.Options{
		CacheTTL:  a.cfg.CacheTTL,
		Backend:   p.graph.Info().Backend,
		ModelID:   p.modelID,
		MaxPixels: a.cfg.MaxImagePixels,
	}

	if a.cfg.DatabaseDSN != "" {
		db, err := initDatabase(ctx, a.cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		repo := repository.NewClassificationRepository(db)
		if err := repo.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		opts.Repository = repo
		a.logger.Info("classification log enabled")
	}

	if a.cfg.RedisAddr != "" {
		client, err := initRedis(ctx, a.cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.Cache = classifier.NewRedisCache(client, "")
		a.logger.Info("result cache enabled", zap.String("addr", a.cfg.RedisAddr))
	}

	svc := classifier.New(p.client, p.labels, a.logger, opts)
	h := handlers.NewHandler(svc, p.graph.Info(), a.logger, handlers.Options{
		RequestTimeout: a.cfg.RequestTimeout,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
	})

	var protect []gin.HandlerFunc
	if a.cfg.JWTSecret != "" {
		protect = append(protect, auth.JWTMiddleware(a.cfg.JWTSecret, a.cfg.JWTAudience))
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           handlers.NewRouter(h, a.logger, protect...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("server starting",
		zap.String("addr", server.Addr),
		zap.Bool("auth", len(protect) > 0),
		zap.Strings("endpoints", []string{
			"GET /", "GET /health", "POST /classify", "POST /inference",
			"POST /upload", "GET /result/:id", "GET /stats",
		}))
	return serveHTTP(ctx, server, shutdownTimeout, a.logger, nil)
}

func initDatabase(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return db, nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// serveHTTP runs server until it fails or ctx is cancelled, then drains
// in-flight requests for up to shutdownTimeout. A nil listener means
// ListenAndServe on server.Addr.
func serveHTTP(ctx context.Context, server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("received shutdown signal", zap.Error(context.Cause(ctx)))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

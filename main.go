package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/face-gateway/internal/config"
	"github.com/example/face-gateway/internal/grpcclient"
	"github.com/example/face-gateway/internal/handlers"
	"github.com/example/face-gateway/internal/imagefile"
	"github.com/example/face-gateway/internal/logging"
	"github.com/example/face-gateway/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, conn, err := grpcclient.DialFaceService(ctx, cfg.FaceService.Addr, cfg.FaceService.DialTimeout, logger)
	if err != nil {
		logger.Fatal("failed to connect to face service", zap.Error(err))
	}
	defer conn.Close()

	var cache usecase.Cache
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient, err := initRedis(redisCtx, cfg.Redis)
		redisCancel()
		if err != nil {
			logger.Warn("redis unavailable, verification cache disabled", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
		} else {
			defer redisClient.Close()
			cache = usecase.NewRedisCache(redisClient)
		}
	}

	if cfg.Images.TempDir != "" {
		if err := os.MkdirAll(cfg.Images.TempDir, 0o700); err != nil {
			logger.Fatal("failed to create image directory", zap.Error(err), zap.String("dir", cfg.Images.TempDir))
		}
	}
	images := imagefile.NewStore(cfg.Images.TempDir, &http.Client{Timeout: cfg.Images.FetchTimeout}, cfg.Images.MaxFetchBytes)

	uc := usecase.NewFaceUseCase(client, images, cache, usecase.Options{
		Threshold:       cfg.Verification.Threshold,
		ModelName:       cfg.Verification.ModelName,
		DetectorBackend: cfg.Detection.Backend,
		CacheTTL:        cfg.Redis.CacheTTL,
	}, logger)

	gin.SetMode(cfg.HTTP.Mode)
	router := handlers.NewRouter(uc, handlers.RouterOptions{
		Logger:         logger,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face gateway listening",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("face_service", cfg.FaceService.Addr),
		zap.String("detector_backend", cfg.Detection.Backend),
		zap.String("image_dir", images.Dir()),
		zap.Bool("cache_enabled", cache != nil),
	)
	if err := serveHTTPServer(server, cfg.HTTP.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// initRedis connects and pings. On failure the client is already closed.
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
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

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"b2bstore.org/internal/auth"
	"b2bstore.org/internal/catalog"
	catalogpg "b2bstore.org/internal/catalog/pg"
	"b2bstore.org/internal/config"
	"b2bstore.org/internal/httpapi"
	"b2bstore.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := os.Getenv("B2B_CONFIG")
	cfg, err := config.Load(configPath)
	logger := obs.InitLogger(cfg.LogLevel)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", zap.Error(err))
	}
	obs.Init()
	obs.SetBuild(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db        *sql.DB
		directory auth.DirectoryAdmin
		store     catalog.Service
	)
	if cfg.HasDatabase() {
		db, err = catalogpg.Open(cfg.PGDSN)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		defer db.Close()
		directory = auth.NewPGDirectory(db)
		store = catalogpg.New(db)
	} else {
		logger.Warn("no database configured, using in-memory storage")
		directory = auth.NewMemoryDirectory()
		store = catalog.NewInMemory()
	}

	seedCtx, cancelSeed := context.WithTimeout(ctx, 15*time.Second)
	if err := auth.EnsureBuiltins(seedCtx, directory); err != nil {
		logger.Fatal("seed permission groups", zap.Error(err))
	}
	if err := bootstrapAdmin(seedCtx, directory, os.Getenv("B2B_BOOTSTRAP_EMAIL"), os.Getenv("B2B_BOOTSTRAP_PASSWORD")); err != nil {
		logger.Fatal("bootstrap admin", zap.Error(err))
	}
	cancelSeed()

	codec, err := auth.NewCodec(cfg.CodecConfig())
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}
	svc, err := auth.NewService(directory, codec)
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	readiness := httpapi.ReadyProbe{DB: db}
	api, err := httpapi.New(httpapi.Options{
		Version:       version,
		Readiness:     readiness,
		Auth:          svc,
		Cookies:       auth.NewSessionCookies(cfg.Auth.SessionTTL),
		Catalog:       store,
		Directory:     directory,
		CORSOrigins:   cfg.CORSOrigins,
		RateBurst:     cfg.RateLimit.Burst,
		RatePerSecond: cfg.RateLimit.PerSecond,
	})
	if err != nil {
		logger.Fatal("http api", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcAPI := httpapi.NewGRPCServer(readiness, codec, nil)
	grpcSrv := grpcAPI.Server()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.Error(err), zap.String("addr", cfg.GRPCAddr))
	}
	go grpcAPI.WatchReadiness(ctx, 10*time.Second)

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, func(c config.Config) {
				if err := obs.SetLevel(c.LogLevel); err != nil {
					logger.Warn("ignoring log level from reloaded config", zap.String("log_level", c.LogLevel))
					return
				}
				logger.Info("log level reloaded", zap.Stringer("log_level", obs.Level()))
			})
			if err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
			stop()
		}
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	logger.Info("stopped")
	_ = logger.Sync()
}

// bootstrapAdmin creates the first administrator when both values are set and
// the account does not exist yet.
func bootstrapAdmin(ctx context.Context, dir auth.DirectoryAdmin, email, password string) error {
	if email == "" || password == "" {
		return nil
	}
	if _, err := dir.FindUserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u := &auth.User{Email: email, PasswordHash: hash}
	if err := dir.CreateUserWithGroups(ctx, u, []string{auth.GroupAdmin}); err != nil {
		return err
	}
	obs.Logger().Info("bootstrap admin created", zap.String("user_id", u.ID.String()))
	return nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sakshamg567/tiltmarble/internal/config"
	"github.com/sakshamg567/tiltmarble/internal/physics"
	"github.com/sakshamg567/tiltmarble/internal/relay"
	"github.com/sakshamg567/tiltmarble/internal/roster"
	"github.com/sakshamg567/tiltmarble/internal/transport/docstore"
	"github.com/sakshamg567/tiltmarble/logger"
)

func main() {
	if err := config.InitConfig(); err != nil {
		logger.Error("%v", err)
	}
	cfg := config.Load(logger.Default())
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	rc := roster.Config{
		Bounds:      physics.CenteredBounds(cfg.RoomWidth, cfg.RoomHeight),
		Radius:      cfg.MarbleRadius,
		IdleTimeout: cfg.IdleTimeout,
		PurgeAfter:  cfg.PurgeAfter,
	}
	mgr := roster.NewManager(rc)

	rcfg := relay.DefaultConfig()
	rcfg.ResyncInterval = cfg.ResyncInterval
	srv := relay.NewServer(mgr, rcfg, logger.Default())
	app := relay.NewApp(srv, cfg.AccessLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go srv.RunReaper(ctx, cfg.ReapInterval)

	// Rooms kept in redis by docstore clients need their own reaper; nothing else expires them.
	if cfg.RedisURL != "" {
		pool := docstore.NewPool(cfg.RedisURL)
		defer pool.Close()
		store := docstore.NewRedisStore(pool, rc, docstore.WithRedisLogger(logger.WithPrefix("[redis] ")))
		go docstore.NewJanitor(store, cfg.ReapInterval, logger.Default()).Run(ctx)
		logger.Info("redis janitor running against %s", cfg.RedisURL)
	}

	sio := relay.NewSocketIO(srv, logger.Default())
	go func() {
		if err := sio.Serve(); err != nil {
			logger.Error("socket.io: %v", err)
		}
	}()
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", sio)
	sioHTTP := &http.Server{Addr: ":" + cfg.SocketIOPort, Handler: mux}
	go func() {
		logger.Info("Socket.IO :%s", cfg.SocketIOPort)
		if err := sioHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("socket.io listen: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sioHTTP.Shutdown(sctx)
		_ = sio.Close()
		_ = app.ShutdownWithContext(sctx)
	}()

	logger.Info("Server :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Error("listen: %v", err)
	}
}

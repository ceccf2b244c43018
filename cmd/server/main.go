package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"lurk/internal/config"
	"lurk/internal/db"
	clog "lurk/internal/log"
	"lurk/internal/mw"
	"lurk/internal/names"
	"lurk/internal/server"
	"lurk/internal/service"
	"lurk/internal/storage"
	"lurk/internal/ws"
)

type reportSink interface {
	service.ReportSink
	Close() error
}

// openReportSink 配置了 DATABASE_DSN 时写入 Postgres，否则写本地 JSONL。
func openReportSink(cfg config.Config) (reportSink, error) {
	if cfg.DatabaseDSN == "" {
		return storage.NewFileReportSink(cfg.ReportLogPath)
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}
	return db.NewReportSink(gdb), nil
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := openReportSink(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("report sink")
	}
	defer sink.Close()

	images, err := storage.NewLocal(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		log.Fatal().Err(err).Msg("upload store")
	}
	deleter := storage.NewDeleter(images, 4, 1024)

	limiter := mw.NewRateLimiter(mw.PoliciesFrom(cfg.RateLimits), 2*time.Minute)
	limiter.StartGC()
	defer limiter.Stop()

	registry := names.NewRegistry(cfg.NameReservation)
	hub := ws.NewHub(registry, limiter)
	threads := service.NewThreadService(service.FixedTTL(cfg.ThreadTTL), cfg.ReactionEmojis,
		service.WithNotifier(hub), service.WithImageRemover(deleter))
	purger := service.NewPurger(threads, images, cfg.PurgeInterval)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)
	go purger.Run(ctx)
	go registry.Run(ctx, cfg.NameSweepInterval)

	r := server.SetupRouter(server.Deps{
		Cfg:     cfg,
		Threads: threads,
		Reports: service.NewReportService(sink),
		Images:  images,
		Hub:     hub,
		Limiter: limiter,
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Dur("ttl", cfg.ThreadTTL).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	hub.CloseConnections()
	stopHub()
	deleter.Wait()
}

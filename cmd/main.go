package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	httpapi "watchroom/internal/api/http"
	"watchroom/internal/config"
	"watchroom/internal/service"
	"watchroom/lib/logger/sl"
	"watchroom/lib/logger/slogpretty"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	roomService := service.NewRoomService(log, service.SystemClock(), service.SystemScheduler(), service.Timings{
		OwnerTimeout: cfg.Room.OwnerTimeout,
		GracePeriod:  cfg.Room.EmptyGracePeriod,
		SweepPeriod:  cfg.Room.SweepPeriod,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	go roomService.Cleanup().Run(ctx)

	roomController := httpapi.NewRoomController(roomService)
	wsController := httpapi.NewWSController(
		roomService,
		cfg.WS.ReadBufferSize,
		cfg.WS.WriteBufferSize,
		cfg.WS.SendQueueSize,
		cfg.Room.HeartbeatInterval,
		cfg.Room.ReconnectWindow,
		log,
	)

	router := httpapi.SetupRouter(roomController, wsController, cfg.HTTP.CORSOrigins)

	log.Info("starting application", slog.String("addr", cfg.HTTP.Address))
	if err := router.Run(cfg.HTTP.Address); err != nil {
		log.Error("http server stopped", sl.Err(err))
		os.Exit(1)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

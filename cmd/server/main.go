package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/npezzotti/trader-chat/internal/api"
	"github.com/npezzotti/trader-chat/internal/config"
	"github.com/npezzotti/trader-chat/internal/database"
	"github.com/npezzotti/trader-chat/internal/events"
	"github.com/npezzotti/trader-chat/internal/leaderboard"
	"github.com/npezzotti/trader-chat/internal/server"
	"github.com/npezzotti/trader-chat/internal/stats"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load("trader-chat", os.Args[1:], os.LookupEnv)
	if err != nil {
		log.Fatal("config: ", err)
	}

	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}
	logger := log.New(w, "[trader-chat] ", log.LstdFlags)

	dbConn, err := database.NewPgTraderChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if cfg.Migrate {
		logger.Println("applying database migrations...")
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("migrate:", err)
		}
	}

	var cache leaderboard.Cache = leaderboard.NopCache{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("redis ping:", err)
		}
		cache = leaderboard.NewRedisCache(rdb, leaderboard.DefaultCacheTTL)
		logger.Printf("caching leaderboards in redis at %s\n", cfg.RedisAddr)
	}

	var exporter events.Exporter = events.NopExporter{}
	if len(cfg.KafkaBrokers) > 0 {
		exporter = events.NewKafkaExporter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Printf("exporting events to kafka topic %s\n", cfg.KafkaTopic)
	}
	defer func() {
		if err := exporter.Close(); err != nil {
			logger.Println("exporter close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, server.Options{
		Leaderboard:     leaderboard.NewService(dbConn, cache, cfg.MinCompletedSignals, logger),
		Exporter:        exporter,
		HistoryLimit:    cfg.HistoryLimit,
		LeaderboardTopN: cfg.LeaderboardTopN,
	})
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ButyrinIA/community/internal/cache"
	"github.com/ButyrinIA/community/internal/config"
	"github.com/ButyrinIA/community/internal/events"
	"github.com/ButyrinIA/community/internal/localdb"
	"github.com/ButyrinIA/community/internal/server"
	"github.com/ButyrinIA/community/internal/storage"
	"github.com/ButyrinIA/community/internal/storage/local"
	"github.com/ButyrinIA/community/internal/storage/memory"
	"github.com/ButyrinIA/community/internal/storage/postgres"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	storageType := flag.String("storage", "", "хранилище постов: local, memory или postgres (по умолчанию из конфигурации)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Не удалось прочитать .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Не удалось загрузить конфигурацию: %v", err)
	}
	cfg.SetupLogging()
	if *storageType != "" {
		cfg.Storage.Backend = *storageType
	}

	// пользователи, отметки и уведомления живут в локальной базе при любом хранилище постов
	db, err := localdb.Open(cfg.Storage.Path, server.Schema())
	if err != nil {
		log.Fatalf("Не удалось открыть локальную базу: %v", err)
	}
	defer db.Close()

	var store storage.Storage
	switch cfg.Storage.Backend {
	case config.BackendLocal:
		log.Info("Инициализация локального хранилища")
		store = local.NewWithDB(db)
	case config.BackendPostgres:
		log.Info("Инициализация хранилища PostgreSQL")
		store, err = postgres.New(cfg.Postgres.DSN)
		if err != nil {
			log.Fatalf("Не удалось инициализировать PostgreSQL: %v", err)
		}
		defer store.Close()
	case config.BackendMemory:
		log.Info("Инициализация хранилища Memory")
		store = memory.New()
		defer store.Close()
	default:
		log.Fatalf("Хранилище %q не поддерживается сервером", cfg.Storage.Backend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option
	if cfg.Session.Store == config.SessionStoreRedis {
		codes, err := cache.NewRedisKV(ctx, cfg.Redis.Addr, cfg.Redis.Hash+":codes", cfg.Auth.CodeTTL)
		if err != nil {
			log.Fatalf("Не удалось подключиться к Redis: %v", err)
		}
		defer codes.Close()
		opts = append(opts, server.WithCodeStore(codes))
	}

	bus := events.New()
	defer bus.Close()

	srv := server.New(cfg, store, db, bus, opts...)
	log.Info("Запуск сервера")
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("Ошибка сервера: %v", err)
	}
}

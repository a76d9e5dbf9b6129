package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/config"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/logger"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/monitor"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/notify"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/permission"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/provider"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/repository"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/selector"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/service"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "reclaim-monitor")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatal("Failed to connect to Redis",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err),
		)
	}
	defer rdb.Close()

	kv := store.NewRedisKV(rdb)
	connections := store.NewConnectionStore(kv, log)

	// On-device vendor SDKs (HealthKit, Google Fit, Health Connect) are
	// bound by the mobile host embedding these packages; the daemon drives
	// the providers reachable over the network.
	garminClient := provider.NewGarminBridgeClient(cfg.Garmin.BridgeURL, cfg.Garmin.APIKey, log)
	providers := []provider.HealthDataProvider{
		provider.NewGarminProvider(garminClient, log),
	}

	sel := selector.New(connections, providers, cfg.Runtime.OS, log)
	coordinator := permission.NewCoordinator(connections, permission.AlwaysForeground, log)

	var archive monitor.ArchiveSink
	if cfg.Database.Host != "" {
		db, err := openPostgres(cfg)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		archive = repository.NewObservationRepository(db, log)
		log.Info("observation archive enabled",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database),
		)
	}

	engine := monitor.NewEngine(cfg.Monitor, sel, monitor.NewDedupeStore(kv), archive, log)
	healthService := service.New(sel, coordinator, engine, log)

	if cfg.MQTT.Broker != "" {
		dispatcher, err := notify.NewMQTTDispatcher(notify.MQTTOptions{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      cfg.MQTT.QoS,
			Topic:    cfg.MQTT.Topic,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer dispatcher.Close()
		healthService.SubscribeDispatcher(dispatcher)
	}

	healthService.StartMonitoring()
	log.Info("monitoring started",
		zap.String("os", cfg.Runtime.OS),
		zap.Bool("archive", archive != nil),
		zap.Bool("mqtt", cfg.MQTT.Broker != ""),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("Received signal, shutting down",
		zap.String("signal", sig.String()),
	)

	healthService.StopMonitoring()
	log.Info("monitoring stopped")
}

func openPostgres(cfg *config.Config) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

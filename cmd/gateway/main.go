// gateway is the realtime messaging gateway: it terminates authenticated
// WebSocket connections, routes messages and presence events between
// participants, and stores notifications for offline recipients.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/admitboard/realtime/internal/auth"
	"github.com/admitboard/realtime/internal/ban"
	"github.com/admitboard/realtime/internal/config"
	"github.com/admitboard/realtime/internal/messaging"
	"github.com/admitboard/realtime/internal/metrics"
	"github.com/admitboard/realtime/internal/moderation"
	"github.com/admitboard/realtime/internal/notification"
	"github.com/admitboard/realtime/internal/presence"
	"github.com/admitboard/realtime/internal/ratelimit"
	"github.com/admitboard/realtime/internal/room"
	"github.com/admitboard/realtime/internal/session"
	"github.com/admitboard/realtime/internal/storage"
	"github.com/admitboard/realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	instanceName := cfg.InstanceName
	if instanceName == "" {
		instanceName, _ = os.Hostname()
	}
	if instanceName == "" {
		instanceName = "gateway-1"
	}

	log.Printf("realtime gateway starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  metrics_addr:    %s", cfg.MetricsAddr)
	log.Printf("  instance_name:   %s", instanceName)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NatsURL)
	log.Printf("  max_connections: %d", cfg.MaxConnections)

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("redis: ping %s: %v", cfg.RedisAddr, err)
	}
	pingCancel()

	// --- Postgres ---
	db, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	convStore := storage.NewConversationStore(db)
	msgStore := storage.NewMessageStore(db)
	userStore := storage.NewUserStore(db)

	// --- NATS (optional; without it fanout stays local) ---
	var bus *messaging.Bus
	if cfg.NatsURL != "" {
		busCfg := messaging.DefaultConfig()
		busCfg.URL = cfg.NatsURL
		busCfg.Name = instanceName
		bus, err = messaging.NewBus(busCfg)
		if err != nil {
			log.Printf("nats: connect failed, running single-instance: %v", err)
			bus = nil
		}
	}

	// --- Moderation ---
	limiter := ratelimit.NewLimiter(rdb)
	msgRule := ratelimit.Rule{Key: "rl:msg:", Limit: cfg.MessageRateLimit, Window: cfg.MessageRateWindow}
	dupRule := ratelimit.Rule{Key: "rl:dup:", Limit: cfg.DuplicateLimit, Window: cfg.DuplicateWindow}

	filter := moderation.NewFilter()
	if terms := cfg.SensitiveTermList(); terms != nil {
		filter = moderation.NewFilterWithTerms(terms)
	}
	pipeline := moderation.NewPipelineWithRules(limiter, filter, msgRule, dupRule)

	// --- Gateway wiring ---
	router := room.NewRouter()
	registry := presence.NewRegistry()

	var gw *session.Gateway
	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:        cfg.ListenAddr,
		MaxConnections:    cfg.MaxConnections,
		WriteTimeout:      cfg.WriteTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.ReadTimeout,
	}, func(ctx context.Context, r *http.Request) (string, error) {
		return gw.Authenticate(ctx, r)
	})

	fanout := session.NewFanout(router, server.Connections().Broadcast, bus)

	gw = session.NewGateway(session.GatewayDeps{
		Router:        router,
		Fanout:        fanout,
		Presence:      registry,
		Moderator:     pipeline,
		Conversations: convStore,
		Messages:      msgStore,
		Users:         userStore,
		Verifier:      verifier,
		Guard:         ban.NewGuard(userStore),
		RetryAfter: func(ctx context.Context, userID string) int {
			return limiter.RetryAfter(ctx, userID, msgRule)
		},
	})

	notifStore := notification.NewStore(rdb, notification.StoreConfig{
		Cap: cfg.NotificationCap,
		TTL: cfg.NotificationTTL,
	}, gw)
	gw.SetNotifier(notifStore)

	server.SetOnConnect(func(c *ws.Connection) { gw.HandleConnect(c) })
	server.SetOnMessage(func(c *ws.Connection, data []byte) { gw.HandleMessage(c, data) })
	server.SetOnDisconnect(func(c *ws.Connection) { gw.HandleDisconnect(c) })

	if err := fanout.Start(); err != nil {
		log.Printf("fanout: subscriptions failed, running single-instance: %v", err)
	}

	// --- Metrics ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Printf("metrics: listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if bus != nil {
			bus.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsServer.Shutdown(shutCtx)
		cancel()
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

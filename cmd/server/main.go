package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"
	"google.golang.org/grpc"

	"github.com/darkden-lab/bazaar-realtime/internal/alerts"
	"github.com/darkden-lab/bazaar-realtime/internal/auth"
	"github.com/darkden-lab/bazaar-realtime/internal/config"
	"github.com/darkden-lab/bazaar-realtime/internal/db"
	"github.com/darkden-lab/bazaar-realtime/internal/gateway"
	"github.com/darkden-lab/bazaar-realtime/internal/jobs"
	"github.com/darkden-lab/bazaar-realtime/internal/limits"
	"github.com/darkden-lab/bazaar-realtime/internal/logging"
	mw "github.com/darkden-lab/bazaar-realtime/internal/middleware"
	"github.com/darkden-lab/bazaar-realtime/internal/operator"
	"github.com/darkden-lab/bazaar-realtime/internal/policy"
	"github.com/darkden-lab/bazaar-realtime/internal/presence"
	"github.com/darkden-lab/bazaar-realtime/internal/stats"
	"github.com/darkden-lab/bazaar-realtime/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	cfg.LogConfig(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Account status lookups
	var accounts auth.AccountChecker = auth.AllowAllAccounts{}
	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn().Err(err).Msg("database connection failed, treating every account as active")
		} else {
			defer database.Close()
			accounts = auth.NewPostgresAccounts(database.Pool)
		}
	}

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	validator := auth.NewValidator(jwtService, accounts, cfg.AccountCacheTTL)

	// Channel policy
	rules := policy.Default()
	if cfg.PolicyFile != "" {
		rules, err = policy.Load(cfg.PolicyFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.PolicyFile).Msg("failed to load channel policy")
		}
	}

	// Hub
	collector := stats.New()
	hub := ws.NewHub(ws.Config{
		HeartbeatInterval:    cfg.HeartbeatInterval,
		MissedHeartbeats:     cfg.MissedHeartbeats,
		SendBuffer:           cfg.SendBuffer,
		SendFailureLimit:     cfg.SendFailureLimit,
		MaxMessagesPerMinute: cfg.MaxMessagesPerMinute,
		MaxRateViolations:    cfg.MaxRateViolations,
	}, ws.Deps{
		Policy:   rules,
		Presence: presence.NewTracker(cfg.PresenceTTL),
		Stats:    collector,
		Alerts:   alerts.NewLog(cfg.AlertLogSize),
		Logger:   logger,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	// Route optimization jobs
	queue, err := jobs.NewQueue(jobs.KafkaConfig{
		Brokers:       cfg.Brokers(),
		RequestTopic:  cfg.KafkaJobTopic,
		ResultTopic:   cfg.KafkaResultTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
	}, hub, logging.Component(logger, "jobs"))
	if err != nil {
		logger.Warn().Err(err).Msg("route optimization unavailable")
	} else {
		hub.UseRouteQueue(queue)
	}

	// Broadcast gateway
	gw := gateway.New(hub, cfg.GatewayToken, logger)

	var grpcServer *grpc.Server
	if cfg.GRPCPort != "" {
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(gateway.LoggingInterceptor(logging.Component(logger, "grpc"))))
		gateway.RegisterGRPC(grpcServer, gw)
		go startGRPCServer(logger, grpcServer, cfg.GRPCPort)
	}

	var natsResponder *gateway.NATSResponder
	if cfg.NATSURL != "" {
		natsResponder, err = gateway.ConnectNATS(gateway.NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.GatewayNATSSubject,
			Timeout: cfg.GatewayTimeout,
		}, gw, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("NATS gateway disabled")
		}
	}

	// Router
	r := mux.NewRouter()
	r.Use(mw.RateLimitMiddleware(cfg.HTTPRateLimitRPS, cfg.HTTPRateLimitBurst))

	r.HandleFunc("/healthz", healthzHandler(hub)).Methods(http.MethodGet)

	ws.NewWSHandler(hub, validator,
		limits.NewConnectionCap(cfg.MaxConnectionsPerIP),
		ws.NewOriginChecker(cfg.Origins()),
	).RegisterRoutes(r)

	gateway.NewHTTPHandler(gw).RegisterRoutes(r)

	operator.NewHandlers(hub.Stats(), hub.Alerts(), hub.Presence(),
		mw.AuthMiddleware(validator),
		mw.RequireRole(auth.RoleAdmin),
	).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsMiddleware(cfg.Origins(), r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("realtime broker listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// closes them when ctx is done.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	<-hubDone

	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if natsResponder != nil {
		if err := natsResponder.Close(); err != nil {
			logger.Warn().Err(err).Msg("NATS drain")
		}
	}
	if queue != nil {
		if err := queue.Close(); err != nil {
			logger.Warn().Err(err).Msg("job queue close")
		}
	}
	logger.Info().Msg("stopped")
}

func healthzHandler(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": hub.ClientCount(),
			"channels":    hub.ChannelCount(),
		})
	}
}

func startGRPCServer(logger zerolog.Logger, srv *grpc.Server, port string) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		logger.Fatal().Err(err).Str("port", port).Msg("failed to listen on gRPC port")
	}

	logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC gateway listening")
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error().Err(err).Msg("gRPC server failed")
	}
}

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	origins := make(map[string]bool)
	for _, o := range allowed {
		origins[strings.TrimRight(o, "/")] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origins[origin] || origins["*"] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/otaviofarias/ticketstream/internal/api"
	"github.com/otaviofarias/ticketstream/internal/config"
	"github.com/otaviofarias/ticketstream/internal/db"
	"github.com/otaviofarias/ticketstream/internal/dispatch"
	"github.com/otaviofarias/ticketstream/internal/events"
	"github.com/otaviofarias/ticketstream/internal/middleware"
	"github.com/otaviofarias/ticketstream/internal/observ"
	"github.com/otaviofarias/ticketstream/internal/permission"
	"github.com/otaviofarias/ticketstream/internal/repository/postgres"
	"github.com/otaviofarias/ticketstream/internal/ticket"
	"github.com/otaviofarias/ticketstream/internal/transport"
	"github.com/otaviofarias/ticketstream/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Startup has no parent request or deadline; Background is the root.
	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	// Repositories share the pool; it is goroutine-safe.
	pool := database.Pool()
	ticketRepo := postgres.NewTicketStore(pool)
	messageRepo := postgres.NewMessageStore(pool)
	channelRepo := postgres.NewChannelStore(pool)
	userRepo := postgres.NewUserStore(pool)
	tenantRepo := postgres.NewTenantStore(pool)
	permissionRepo := postgres.NewPermissionStore(pool)

	// Fan-out: local websocket hub plus the Redis relay for other
	// instances. Remote events arrive through the relay subscription and
	// feed the local hub directly.
	hub := ws.NewHub(logger)
	relay := events.NewRedisRelay(redisClient, logger)
	fanout := events.NewFanout(1024, logger, hub, relay)
	defer fanout.Close()

	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	go func() {
		if err := relay.Subscribe(relayCtx, hub.Deliver); err != nil && relayCtx.Err() == nil {
			logger.Error("relay subscription ended", zap.Error(err))
		}
	}()

	gate := permission.NewGate(permissionRepo)
	ticketSvc := ticket.NewService(ticketRepo, fanout, logger)
	gateway := transport.NewGatewayClient(cfg.GatewayURL, logger)
	orchestrator := dispatch.NewOrchestrator(ticketRepo, messageRepo, gate, gateway, fanout, logger)

	authHandler := api.NewAuthHandler(userRepo, tenantRepo, cfg.JWTSecret, logger)
	ticketHandler := api.NewTicketHandler(ticketRepo, userRepo, gate, ticketSvc, logger)
	messageHandler := api.NewMessageHandler(messageRepo, ticketRepo, ticketSvc, orchestrator, logger)
	userHandler := api.NewUserHandler(userRepo, logger)
	channelHandler := api.NewChannelHandler(channelRepo, logger)

	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())

	// Health is public: load balancers can't carry a token.
	srv.GET("/v1/health", func(c *gin.Context) {
		if err := database.Health(c.Request.Context()); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	srv.POST("/v1/auth/signup", authHandler.Signup)
	srv.POST("/v1/auth/login", authHandler.Login)

	v1 := srv.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	v1.GET("/tickets", ticketHandler.List)
	v1.POST("/tickets", ticketHandler.Create)
	v1.GET("/tickets/:ticketId", ticketHandler.Show)
	v1.PUT("/tickets/:ticketId", ticketHandler.Update)

	v1.GET("/messages/:ticketId", messageHandler.List)
	v1.POST("/messages/resend", messageHandler.Resend)
	v1.POST("/messages/:ticketId", messageHandler.Send)
	v1.DELETE("/messages/:messageId", messageHandler.Remove)

	v1.PUT("/users/:userId", userHandler.Update)
	v1.GET("/channels", channelHandler.List)
	v1.GET("/ws", hub.HandleWS)

	logger.Info("starting ticketstream",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)
	return srv.Run(":" + cfg.Port)
}

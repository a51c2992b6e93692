package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-backend/internal/auth"
	"chat-backend/internal/config"
	"chat-backend/internal/db"
	"chat-backend/internal/handlers"
	"chat-backend/internal/logger"
	"chat-backend/internal/mailer"
	"chat-backend/internal/middleware"
	"chat-backend/internal/observability"
	"chat-backend/internal/rabbitmq"
	"chat-backend/internal/repositories"
	"chat-backend/internal/telemetry"
	"chat-backend/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("CHAT_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.Setup(cfg); err != nil {
		log.Fatalf("failed to set up logging: %v", err)
	}

	shutdownTracing, err := observability.SetupTracing(context.Background(),
		cfg.Tracing.Enabled, cfg.Tracing.OTLPEndpoint, cfg.Server.Environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	log.Printf("event publisher mode=%s", rabbitmq.Mode(publisher))

	audit := telemetry.NewAuditEmitter(publisher, "audit.chat-backend", "chat-backend", cfg.Server.Environment)

	userRepo := repositories.NewUserRepo(database)
	otpRepo := repositories.NewOTPRepo(database)
	chatRepo := repositories.NewChatRepo(database, userRepo)
	messageRepo := repositories.NewMessageRepo(database)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret)
	sender := mailer.New(cfg.SMTP)
	identity := auth.NewService(userRepo, otpRepo, sender, tokens)

	hub := ws.NewHub()
	presence := ws.NewPresenceTracker(userRepo)

	authHandler := handlers.NewAuthHandler(identity, userRepo, chatRepo, audit)
	chatHandler := handlers.NewChatHandler(chatRepo, messageRepo, userRepo, audit)
	wsHandler := ws.NewHandler(hub, presence, identity, chatRepo, messageRepo)

	go cleanupExpiredCodes(otpRepo)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-backend"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.Auth(identity)

	authGroup := router.Group("/api/auth")
	authGroup.POST("/send-otp", authHandler.SendOTP)
	authGroup.POST("/verify-otp", authHandler.VerifyOTP)
	authGroup.GET("/me", authMiddleware, authHandler.Me)
	authGroup.POST("/generate-invite", authMiddleware, authHandler.GenerateInvite)
	authGroup.POST("/join-invite", authMiddleware, authHandler.JoinInvite)

	chatGroup := router.Group("/api/chat", authMiddleware)
	chatGroup.GET("/chats", chatHandler.ListChats)
	chatGroup.GET("/chats/:chat_id", chatHandler.GetChatDetail)
	chatGroup.GET("/chats/:chat_id/messages", chatHandler.GetChatMessages)
	chatGroup.DELETE("/chats/:chat_id", chatHandler.DeleteChat)
	chatGroup.POST("/groups", chatHandler.CreateGroup)
	chatGroup.GET("/users/search", chatHandler.SearchUsers)

	router.GET("/ws", wsHandler.Handle)

	handlers.RegisterDebugRoutes(router, audit, cfg.Server.DebugRoutes)

	log.Printf("server listening on :%s (%s)", cfg.Server.Port, cfg.Server.Environment)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// cleanupExpiredCodes clears expired one-time codes every 5 minutes.
func cleanupExpiredCodes(otps repositories.OTPRepository) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		removed, err := otps.DeleteExpiredCodes(ctx)
		cancel()
		if err != nil {
			log.Printf("failed to clean up expired codes: %v", err)
			continue
		}
		if removed > 0 {
			log.Printf("cleaned up %d expired codes", removed)
		}
	}
}

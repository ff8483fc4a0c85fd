package routes

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/broadcast"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/changefeed"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/config"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/handlers"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/middleware"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/models"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/notifications"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/presence"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/repository"
	"github.com/Promiles0/hubert-fitness-forge-sub001/internal/services"
	chatws "github.com/Promiles0/hubert-fitness-forge-sub001/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RegisterRoutes wires the application and mounts its routes. Background
// workers (change feed listener, websocket hub, notification registry) run
// until ctx is cancelled.
func RegisterRoutes(ctx context.Context, app *fiber.App, cfg *config.Config, db *pgxpool.Pool) error {
	if cfg == nil || cfg.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if db == nil {
		return fmt.Errorf("database pool is required")
	}

	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	trainerRepo := repository.NewTrainerRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	bookingRepo := repository.NewBookingRepository(db)

	feed := changefeed.NewFeed()
	listener := changefeed.NewPGListener(db, feed)
	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("change feed: listener exited: %v", err)
		}
	}()

	chatService := services.NewChatService(conversationRepo, messageRepo, trainerRepo, profileRepo, userRepo)
	stopWatch := chatService.Watch(feed)

	registry := notifications.NewRegistry(feed, notifications.Options{
		Limit:         cfg.NotificationLimit,
		Participation: chatService,
		Invalidator:   chatService,
		Trainers:      trainerRepo,
	})

	chatHub := chatws.NewHub()
	go chatHub.Run(ctx)

	go func() {
		<-ctx.Done()
		stopWatch()
		registry.Close()
	}()

	bookingService := services.NewBookingService(db, bookingRepo, trainerRepo)

	authHandler := handlers.NewAuthHandler(db, userRepo, profileRepo, registry, cfg.JWTSecret)
	chatHandler := handlers.NewChatHandler(
		chatService,
		chatHub,
		chatws.Deps{
			Chat: chatService,
			Feed: feed,
			Bus:  broadcast.NewBus(),
			Typing: presence.Options{
				StaleAfter:    cfg.TypingStaleAfter,
				SweepInterval: cfg.TypingSweepInterval,
			},
		},
		registry,
		profileRepo,
		cfg.JWTSecret,
	)
	notificationHandler := handlers.NewNotificationHandler(registry)
	bookingHandler := handlers.NewBookingHandler(bookingService)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
		})
	})

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	// The websocket authenticates from the query string, so it is mounted
	// before the bearer-protected group.
	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("", middleware.RequireRole(models.RoleMember), chatHandler.CreateConversation)
	conversations.Delete("/:id", chatHandler.DiscardConversation)
	conversations.Get("/:id/messages", chatHandler.GetMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/read", chatHandler.MarkConversationRead)

	messages := authProtected.Group("/messages")
	messages.Post("/:id/read", chatHandler.MarkMessageRead)

	notificationRoutes := authProtected.Group("/notifications")
	notificationRoutes.Get("", notificationHandler.List)
	notificationRoutes.Post("/read-all", notificationHandler.MarkAllAsRead)
	notificationRoutes.Post("/:id/read", notificationHandler.MarkAsRead)
	notificationRoutes.Delete("", notificationHandler.ClearAll)

	bookings := authProtected.Group("/bookings")
	bookings.Post("", middleware.RequireRole(models.RoleMember), bookingHandler.BookClass)
	bookings.Get("", bookingHandler.ListBookings)

	return nil
}

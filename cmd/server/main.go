package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"go-chat-server/internal/chat"
	"go-chat-server/internal/db"
	myMiddleware "go-chat-server/internal/middleware"
	"go-chat-server/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Config & Flags
	addr := flag.String("addr", ":8080", "http service address")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("❌ DB_DSN is not set")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("❌ JWT_SECRET is not set")
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	reportLoc := time.UTC
	if tz := os.Getenv("REPORT_TZ"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Fatalf("❌ Invalid REPORT_TZ: %v", err)
		}
		reportLoc = loc
	}

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(dsn)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// 4. Real-time core: hub, registry, presence, coordinator
	hub := chat.NewHub()
	registry := chat.NewConnectionRegistry()
	presence := chat.NewPresence(registry, chat.NewStatusNotifier(hub), chat.DefaultPresenceDebounce)
	groups := chat.NewGroupSyncer(hub, registry)

	chatRepo := chat.NewRepository(database.Conn)
	coordinator := chat.NewCoordinator(chatRepo, registry, groups, hub, presence)

	// 5. User feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, jwtSecret)
	refreshTokens := user.NewRefreshTokenStore(redisClient, user.DefaultRefreshTokenTTL)
	userHandler := user.NewHandler(userService, refreshTokens, hub)

	chatHandler := chat.NewHandler(chatRepo, coordinator, hub, registry, userService, reportLoc)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public
	r.Post("/api/users/register", userHandler.Register)
	r.Post("/api/users/login", userHandler.Login)
	r.Post("/api/users/refresh", userHandler.Refresh)

	// Protected (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (real-time RPC + events)
		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/chats", chatHandler.Dashboard)
		r.Get("/api/chats/report", chatHandler.Report)
		r.Get("/api/chats/{chatId}/messages", chatHandler.Messages)
		r.Post("/api/chats/{chatId}/visited", chatHandler.UpdateLastVisited)
	})

	log.Printf("🚀 Server starting on %s", *addr)
	if err := http.ListenAndServe(*addr, r); err != nil {
		log.Fatal(err)
	}
}

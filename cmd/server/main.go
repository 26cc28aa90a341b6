package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/infrasight/backend/internal/auth"
	"github.com/infrasight/backend/internal/database"
	"github.com/infrasight/backend/internal/gamification"
	"github.com/infrasight/backend/internal/middleware"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("[server] no .env file loaded: %v", err)
	}

	db, err := database.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := gamification.NewStore(db)

	configService := gamification.NewConfigService(store)
	if err := configService.Seed(ctx); err != nil {
		log.Fatalf("Failed to seed scoring config: %v", err)
	}

	service := gamification.NewService(store, configService)
	runner := gamification.NewRunner(service, store, store)

	authHandler := auth.NewHandler(db, service)
	gamifyHandler := gamification.NewHandler(service, runner, store)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	// Public routes
	api.HandleFunc("/auth/register", authHandler.Register).Methods("POST")
	api.HandleFunc("/auth/login", authHandler.Login).Methods("POST")
	api.HandleFunc("/events", gamifyHandler.IngestEvent).Methods("POST")

	// Protected routes
	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(auth.JWTSecret))
	protected.HandleFunc("/auth/me", authHandler.GetCurrentUser).Methods("GET")
	protected.HandleFunc("/gamify/login", gamifyHandler.AwardLogin).Methods("POST")
	protected.HandleFunc("/gamify/command", gamifyHandler.AwardCommand).Methods("POST")
	protected.HandleFunc("/gamify/me", gamifyHandler.GetMe).Methods("GET")
	protected.HandleFunc("/gamify/leaderboard", gamifyHandler.Leaderboard).Methods("GET")
	protected.HandleFunc("/gamify/leaderboard/search", gamifyHandler.SearchRanks).Methods("GET")
	protected.HandleFunc("/gamify/badges", gamifyHandler.ListBadges).Methods("GET")

	// Admin routes
	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AuthMiddleware(auth.JWTSecret))
	admin.HandleFunc("/config/reload", gamifyHandler.ReloadConfig).Methods("POST")
	admin.HandleFunc("/batch/daily", gamifyHandler.RunDailyBatch).Methods("POST")
	admin.HandleFunc("/batch/weekly-streaks", gamifyHandler.RunWeeklyStreaks).Methods("POST")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Background workers
	go runner.StartDailyWorker(ctx)
	go runner.StartWeeklyWorker(ctx)

	// CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	handler := c.Handler(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

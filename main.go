package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventquiz/config"
	"eventquiz/database"
	"eventquiz/handlers"
	"eventquiz/middleware"
	"eventquiz/routes"
	"eventquiz/services"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/httprate"
	log "github.com/sirupsen/logrus"
)

const requestTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config.InitLogging(cfg)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Redis; the state cache is optional
	var cache services.StateCache = services.NoopStateCache{}
	redisClient := config.InitRedis(cfg)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis unavailable, public state cache disabled")
	} else {
		cache = services.NewRedisStateCache(redisClient, cfg.StateCacheTTL)
		defer redisClient.Close()
	}

	clock := services.SystemClock

	// Initialize services
	membership := services.NewMembershipService(db, clock)
	scores := services.NewScoreService(db)
	ledger := services.NewLedger(db)
	ranking := services.NewRankingService(db, clock, cfg.PresenceWindow)
	presence := services.NewPresenceService(db, clock)
	rounds := services.NewRoundService(db, cache)
	phases := services.NewPhaseService(db, clock)
	participants := services.NewParticipantService(db)
	auth := services.NewAdminAuth(cfg.AdminToken, cfg.JWTSecret, cfg.AdminSessionTTL, clock)

	// Initialize WebSocket hub; it reads state through the engine built below
	var engine *services.Engine
	hub := services.NewHub(services.StateFunc(func(ctx context.Context, eventID uint) (*services.PublicRound, error) {
		return engine.PublicState(ctx, eventID)
	}))
	go hub.Run(ctx)

	publishers := services.MultiPublisher{hub}
	if cfg.NatsURL != "" {
		nc, err := services.ConnectNats(cfg.NatsURL, cfg.NatsToken)
		if err != nil {
			log.WithError(err).Warn("nats unavailable, cross-service events disabled")
		} else {
			defer nc.Drain()
			publishers = append(publishers, services.NewNatsPublisher(nc))
			log.WithField("url", cfg.NatsURL).Info("publishing round events to nats")
		}
	}
	engine = services.NewEngine(db, scores, ledger, cache, publishers, clock)

	// Initialize handlers
	h := routes.Handlers{
		Quiz:         handlers.NewQuizHandler(membership, cfg.DefaultEventSlug, engine, ledger, rounds),
		Leaderboard:  handlers.NewLeaderboardHandler(membership, cfg.DefaultEventSlug, ranking),
		Member:       handlers.NewMemberHandler(membership, presence, cfg.DefaultEventSlug),
		Participants: handlers.NewParticipantHandler(membership, cfg.DefaultEventSlug, participants, scores),
		Phase:        handlers.NewPhaseHandler(membership, cfg.DefaultEventSlug, phases),
		Admin:        handlers.NewAdminHandler(auth),
	}

	// Setup Gin router
	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(),
		middleware.CORS(cfg.CORSOrigins),
		middleware.Timeout(requestTimeout),
	)
	routes.SetupRoutes(router, h, auth, hub, membership, cfg.CORSOrigins)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httprate.LimitByIP(cfg.RateLimit, time.Minute)(router),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()
	log.Infof("Server starting on %s (event %s)", server.Addr, cfg.DefaultEventSlug)

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server shutdown failed: %+v", err)
	}
	log.Info("Server gracefully stopped")
}

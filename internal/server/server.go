package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/questmap/backend/internal/auth"
	"github.com/questmap/backend/internal/engine"
	"github.com/questmap/backend/internal/handlers"
	"github.com/questmap/backend/internal/middleware"
	"github.com/questmap/backend/internal/notify"
	"github.com/questmap/backend/internal/realtime"
	"github.com/questmap/backend/internal/store"
)

const defaultSnapshotPath = "data/snapshot.json"

type Server struct {
	store   *store.Store
	archive *store.Archive
	hub     *realtime.Hub
	engine  *engine.Engine
	log     *zap.SugaredLogger

	authHandler    *handlers.AuthHandler
	questHandler   *handlers.QuestHandler
	markerHandler  *handlers.MarkerHandler
	paymentHandler *handlers.PaymentHandler
	adminHandler   *handlers.AdminHandler
	eventsHandler  *handlers.EventsHandler

	http *http.Server
}

// New assembles the full application: store, optional snapshot archive,
// broadcast hub, engine and HTTP surface.
func New(log *zap.SugaredLogger) (*Server, error) {
	snapshotPath := os.Getenv("SNAPSHOT_PATH")
	if snapshotPath == "" {
		snapshotPath = defaultSnapshotPath
	}

	var storeOpts []store.Option
	var archive *store.Archive
	if store.ArchiveEnabled() {
		a, err := store.NewArchive(log)
		if err != nil {
			return nil, err
		}
		archive = a
		storeOpts = append(storeOpts, store.WithArchiver(a))
	}
	if v := os.Getenv("SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			storeOpts = append(storeOpts, store.WithSnapshotInterval(d))
		}
	}

	st := store.New(snapshotPath, log, storeOpts...)
	hub := realtime.NewHub(st, log)
	eng := engine.New(st, hub, log, engine.OptionsFromEnv()...)

	var sender notify.Sender
	if notify.TwilioEnabled() {
		sender = notify.NewTwilioSender()
	}
	notifier := notify.NewService(sender, log)
	authSvc := auth.NewService(st, notifier, log)

	s := &Server{
		store:          st,
		archive:        archive,
		hub:            hub,
		engine:         eng,
		log:            log,
		authHandler:    handlers.NewAuthHandler(authSvc, st),
		questHandler:   handlers.NewQuestHandler(eng, st),
		markerHandler:  handlers.NewMarkerHandler(eng, st),
		paymentHandler: handlers.NewPaymentHandler(eng, st),
		adminHandler:   handlers.NewAdminHandler(eng, st, hub),
		eventsHandler:  handlers.NewEventsHandler(hub),
	}

	router := s.RegisterRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080" // local dev fallback
	}

	s.http = &http.Server{
		Addr:         "0.0.0.0:" + port,
		Handler:      router,
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
	}
	return s, nil
}

// Start loads the snapshot, launches the hub and serves HTTP. Blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.store.Start()
	s.hub.Start()

	s.log.Infow("🚀 Server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then stops the hub and forces a final
// snapshot so no committed write is older than the file on disk.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.hub.Stop()
	s.store.Stop()
	if s.archive != nil {
		s.archive.Close()
	}
	s.log.Infow("server stopped")
	return err
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * 3600,
	}))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		health := gin.H{
			"status":       "ok",
			"lastSnapshot": s.store.LastUpdated(),
		}
		if s.archive != nil {
			health["archive"] = s.archive.Health()
		}
		c.JSON(http.StatusOK, health)
	})

	// API routes
	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/auth/request-code", s.authHandler.RequestCode)
		api.POST("/auth/verify", s.authHandler.VerifyCode)

		// Public reads
		api.GET("/stats", s.adminHandler.GetPublicStats)
		api.GET("/categories", s.questHandler.GetCategories)
		api.GET("/quests", s.questHandler.GetQuests)
		api.GET("/quests/:id", s.questHandler.GetQuest)
		api.GET("/markers", s.markerHandler.GetMarkers)
		api.GET("/markers/:id", s.markerHandler.GetMarker)

		// Protected routes (authentication required)
		protected := api.Group("")
		protected.Use(middleware.Auth())
		{
			protected.GET("/me", s.authHandler.Me)

			// Realtime stream
			protected.GET("/events", s.eventsHandler.Stream)

			// Quest routes
			protected.POST("/quests", s.questHandler.CreateQuest)
			protected.PATCH("/quests/:id/status", s.questHandler.UpdateQuestStatus)
			protected.DELETE("/quests/:id", s.questHandler.DeleteQuest)

			// Marker routes
			protected.POST("/markers", s.markerHandler.CreateMarker)
			protected.POST("/markers/:id/vote", s.markerHandler.Vote)
			protected.POST("/markers/:id/report", s.markerHandler.Report)
			protected.DELETE("/markers/:id", s.markerHandler.DeleteMarker)

			// Payment routes
			protected.POST("/transactions", s.paymentHandler.CreateTransaction)
			protected.GET("/transactions", s.paymentHandler.GetMyTransactions)
			protected.GET("/transactions/:id", s.paymentHandler.GetTransaction)
			protected.POST("/transactions/:id/proof", s.paymentHandler.SubmitProof)
			protected.POST("/transactions/:id/cancel", s.paymentHandler.CancelTransaction)

			// Admin routes
			admin := protected.Group("/admin")
			admin.Use(s.adminHandler.RequireAdmin)
			{
				admin.GET("/transactions", s.adminHandler.GetTransactions)
				admin.POST("/transactions/:id/decide", s.adminHandler.DecideTransaction)
				admin.POST("/markers/:id/verify", s.adminHandler.VerifyMarker)
				admin.POST("/categories", s.adminHandler.CreateCategory)
				admin.GET("/reports", s.adminHandler.GetReports)
				admin.GET("/users", s.adminHandler.GetUsers)
				admin.GET("/stats", s.adminHandler.GetStats)
				admin.GET("/export", s.adminHandler.Export)
			}
		}
	}

	return r
}

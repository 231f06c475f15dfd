package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"campaign-gateway/internal/api"
	"campaign-gateway/internal/cache"
	"campaign-gateway/internal/config"
	"campaign-gateway/internal/database"
	"campaign-gateway/internal/dispatch"
	"campaign-gateway/internal/gateway"
	"campaign-gateway/internal/store"
	"campaign-gateway/internal/tracker"
	"campaign-gateway/internal/webhook"
	"campaign-gateway/internal/ws"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	contactStore := store.NewContactStore(db)
	templateStore := store.NewTemplateStore(db)
	campaignStore := store.NewCampaignStore(db)
	messageStore := store.NewMessageStore(db)
	eventStore := store.NewWebhookEventStore(db)

	statsCache := cache.NewStatsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer statsCache.Close()

	hub := ws.NewHub()
	go hub.Run()

	client := gateway.NewClient(cfg)
	limiter := dispatch.NewTenantLimiter(cfg.MaxInFlightPerTenant)
	engine := dispatch.NewEngine(campaignStore, contactStore, templateStore, messageStore, client, limiter, dispatch.Options{
		MaxAttempts:    cfg.MaxSubmitAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	})
	engine.Hub = hub
	engine.Stats = statsCache

	trk := tracker.NewTracker(campaignStore, contactStore, messageStore, eventStore)
	trk.Hub = hub
	trk.Stats = statsCache

	go engine.RunScheduler(ctx, cfg.SchedulerInterval)

	webhookHandler := webhook.NewHandler(cfg, trk, eventStore)
	contactHandler := api.NewContactHandler(contactStore)
	templateHandler := api.NewTemplateHandler(templateStore, client)
	campaignHandler := api.NewCampaignHandler(campaignStore, templateStore, contactStore, messageStore, engine, statsCache, ctx)
	dashboardHandler := api.NewDashboardHandler(messageStore, contactStore, templateStore, eventStore, engine)

	r := gin.Default()

	// CORS Middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Tenant-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Webhook Routes
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleEvents)

	// Live dashboard feed
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	// Dashboard API Routes
	apiGroup := r.Group("/api", api.TenantRequired())
	{
		apiGroup.GET("/messages", dashboardHandler.GetMessages)
		apiGroup.POST("/send", dashboardHandler.SendMessage)
		apiGroup.GET("/events/unprocessed", dashboardHandler.GetUnprocessedEvents)

		// Contact Routes
		apiGroup.GET("/contacts", contactHandler.GetContacts)
		apiGroup.POST("/contacts", contactHandler.CreateContact)
		apiGroup.PUT("/contacts/:id", contactHandler.UpdateContact)
		apiGroup.DELETE("/contacts/:id", contactHandler.DeleteContact)
		apiGroup.GET("/contacts/export", contactHandler.ExportContacts)

		// Template Routes
		apiGroup.GET("/templates", templateHandler.GetTemplates)
		apiGroup.POST("/templates", templateHandler.CreateTemplate)
		apiGroup.PUT("/templates/:id", templateHandler.UpdateTemplate)
		apiGroup.POST("/templates/:id/render", templateHandler.RenderTemplate)
		apiGroup.POST("/templates/:id/status", templateHandler.SetTemplateStatus)
		apiGroup.POST("/templates/sync", templateHandler.SyncTemplates)

		// Campaign Routes
		apiGroup.GET("/campaigns", campaignHandler.GetCampaigns)
		apiGroup.POST("/campaigns", campaignHandler.CreateCampaign)
		apiGroup.GET("/campaigns/:id", campaignHandler.GetCampaign)
		apiGroup.PUT("/campaigns/:id", campaignHandler.UpdateCampaign)
		apiGroup.DELETE("/campaigns/:id", campaignHandler.DeleteCampaign)
		apiGroup.POST("/campaigns/:id/activate", campaignHandler.ActivateCampaign)
		apiGroup.POST("/campaigns/:id/pause", campaignHandler.PauseCampaign)
		apiGroup.GET("/campaigns/:id/stats", campaignHandler.GetCampaignStats)
		apiGroup.GET("/campaigns/:id/messages", campaignHandler.GetCampaignMessages)
	}

	log.Printf("Server starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

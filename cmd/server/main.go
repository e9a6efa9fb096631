package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-crm/internal/api"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/dispatcher"
	"whatsapp-crm/internal/lock"
	"whatsapp-crm/internal/logging"
	"whatsapp-crm/internal/sequence"
	"whatsapp-crm/internal/store"
	"whatsapp-crm/internal/webhook"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("Failed to migrate database")
	}
	if err := database.SyncConfig(db, cfg, log); err != nil {
		log.WithError(err).Warn("Failed to sync settings from database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	accounts := store.NewAccountStore(db)
	contacts := store.NewContactStore(db)
	messages := store.NewMessageStore(db)
	sequences := store.NewSequenceStore(db)
	templates := store.NewTemplateStore(db)
	logs := store.NewLogStore(db)

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Redis.Enabled {
		redisLocker := lock.NewRedisLocker(cfg.Redis)
		if err := redisLocker.Ping(ctx); err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisLocker.Close()
		locker = redisLocker
		log.WithField("addr", cfg.Redis.Address).Info("Using Redis contact leases")
	}

	engine := sequence.NewEngine(sequence.Options{
		Contacts:  contacts,
		Sequences: sequences,
		History:   messages,
		Leads:     store.NewLeadStore(db),
		Accounts:  accounts,
		Logger:    log.WithField("component", "sequence"),
		Workers:   cfg.DispatchWorkers,
		Guard:     lock.Guard(locker, cfg.LeaseTTL),
	})

	hub := ws.NewHub(log.WithField("component", "ws"))
	go hub.Run(ctx)

	whatsappClient := whatsapp.NewClient(cfg, log.WithField("component", "whatsapp"))

	disp := dispatcher.New(dispatcher.Options{
		Engine:    engine,
		Sender:    whatsappClient,
		Accounts:  accounts,
		Contacts:  contacts,
		Templates: templates,
		Logs:      logs,
		Locker:    locker,
		Notifier:  hub,
		Logger:    log,
		Interval:  cfg.DispatchInterval,
		Workers:   cfg.DispatchWorkers,
		LeaseTTL:  cfg.LeaseTTL,
	})
	engine.Stages().OnStageChanged(disp.StageChanged)
	go disp.Start(ctx)

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), api.CORS())

	webhookHandler := webhook.NewHandler(cfg, accounts, contacts, messages, hub, log)
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)
	r.GET("/ws", func(c *gin.Context) {
		hub.ServeWs(c.Writer, c.Request)
	})

	api.RegisterRoutes(r, api.Handlers{
		Sequences: api.NewSequenceHandler(sequences, store.NewStepStore(db), logs, log),
		Contacts:  api.NewContactHandler(contacts, messages, engine, locker, whatsappClient, cfg.LeaseTTL, log),
		Templates: api.NewTemplateHandler(templates, whatsappClient, log),
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Server shutdown failed")
		}
	}()

	log.WithField("port", cfg.Port).Info("Server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("Failed to run server")
	}
	log.Info("Server stopped")
}

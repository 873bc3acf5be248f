package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/lifeadmin/commitd/internal/archive"
	"github.com/lifeadmin/commitd/internal/chainview"
	"github.com/lifeadmin/commitd/internal/config"
	"github.com/lifeadmin/commitd/internal/escrow"
	"github.com/lifeadmin/commitd/internal/events"
	"github.com/lifeadmin/commitd/internal/httpserver"
	"github.com/lifeadmin/commitd/internal/lifecycle"
	"github.com/lifeadmin/commitd/internal/notify"
	"github.com/lifeadmin/commitd/internal/reconcile"
	"github.com/lifeadmin/commitd/internal/store"
	"github.com/lifeadmin/commitd/internal/sweeper"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Printf("[startup] loaded .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	defer closeStore()

	notifier := buildNotifier(cfg)
	publisher := buildPublisher(cfg)
	defer publisher.Close()

	var archiver archive.Archiver
	if cfg.ArchiveBucket != "" {
		a, err := archive.NewS3Archiver(context.Background(), cfg.ArchiveBucket, cfg.ArchivePrefix)
		if err != nil {
			log.Fatalf("archiver init: %v", err)
		}
		archiver = a
	}

	var escrowClient escrow.Client = escrow.NewStaticClient()
	if cfg.EscrowURL != "" {
		c, err := escrow.NewHTTPClient(escrow.HTTPClientConfig{BaseURL: cfg.EscrowURL})
		if err != nil {
			log.Fatalf("escrow client init: %v", err)
		}
		escrowClient = c
	}

	var chainClient chainview.Client
	if cfg.IndexerURL != "" {
		c, err := chainview.NewHTTPClient(chainview.HTTPClientConfig{
			BaseURL: cfg.IndexerURL,
			Timeout: cfg.IndexerTimeout,
			Retries: 1,
		})
		if err != nil {
			log.Fatalf("chainview client init: %v", err)
		}
		chainClient = c
	}

	svc := lifecycle.New(st, escrowClient, notifier, publisher, archiver, lifecycle.Options{
		DefaultVerifier: cfg.DefaultVerifier,
		AppURL:          cfg.AppURL,
	})
	engine := reconcile.New(st, chainClient, chainview.NewGatewayResolver(cfg.MetadataGW), reconcile.Options{
		ChainTimeout: cfg.IndexerTimeout,
	})
	sw := sweeper.New(st, notifier, sweeper.Config{
		Interval: cfg.ReminderInterval,
		AppURL:   cfg.AppURL,
	})

	server := httpserver.New(cfg, svc, engine, sw, st, notifier)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.ReminderEnabled {
		log.Printf("starting reminder sweeper (interval %s)", cfg.ReminderInterval)
		go sweeper.RunWorker(ctx, sw)
	}

	go func() {
		log.Printf("commitd listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer, svc)
}

func openStore(cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Printf("[startup] using postgres store")
		return store.NewPGStore(db), func() { db.Close() }, nil
	}
	if cfg.StorePath != "" {
		fs, err := store.NewFileStore(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("[startup] using file store at %s", cfg.StorePath)
		return fs, func() {}, nil
	}
	log.Printf("[startup] using in-memory store (state is not persisted)")
	return store.NewMemoryStore(), func() {}, nil
}

func buildNotifier(cfg config.Config) notify.Notifier {
	if cfg.SMTPHost == "" {
		log.Printf("[startup] SMTP not configured; notifications go to the log")
		return notify.NewLogNotifier()
	}
	n, err := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
	})
	if err != nil {
		log.Fatalf("notifier init: %v", err)
	}
	log.Printf("[startup] mailer ready (host %s)", cfg.SMTPHost)
	return n
}

func buildPublisher(cfg config.Config) events.Publisher {
	if cfg.KafkaBrokers == "" {
		return events.NopPublisher{}
	}
	p, err := events.NewKafkaPublisher(events.KafkaPublisherConfig{
		Brokers: strings.Split(cfg.KafkaBrokers, ","),
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		log.Fatalf("event publisher init: %v", err)
	}
	log.Printf("[startup] publishing lifecycle events to %s", cfg.KafkaTopic)
	return p
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server, svc *lifecycle.Service) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	svc.Wait()
}

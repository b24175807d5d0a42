package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"golang.org/x/time/rate"
	"uk.co.dudmesh.herald/internal/boot"
	"uk.co.dudmesh.herald/internal/handlers"
	"uk.co.dudmesh.herald/internal/media"
	"uk.co.dudmesh.herald/internal/newsletter"
	"uk.co.dudmesh.herald/internal/publisher"
	"uk.co.dudmesh.herald/internal/publisher/email"
	"uk.co.dudmesh.herald/internal/publisher/linkedin"
	"uk.co.dudmesh.herald/internal/publisher/wordpress"
	"uk.co.dudmesh.herald/internal/reportstore"
	"uk.co.dudmesh.herald/internal/service/publish"
)

func main() {
	config, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	logFile := boot.ConfigureLogging(config)
	defer logFile.Close()
	log.Infoj(config.Summary())

	layout, err := newsletter.New(config.NewsletterTemplate)
	if err != nil {
		log.Fatalf("newsletter layout: %+v", err)
	}
	defer layout.Close()
	if config.IsDevelopment() {
		if err := layout.Watch(); err != nil {
			log.Fatalf("watcher: %+v", err)
		}
	}

	fetcher := media.NewFetcher(config.Media.FetchTimeout, config.Media.MaxBytes)

	var publishers []publisher.Publisher
	var bulk publish.BulkSender
	if config.LinkedIn.IsConfigured() {
		publishers = append(publishers, linkedin.New(&config.LinkedIn, fetcher, &http.Client{}))
	}
	if config.WordPress.IsConfigured() {
		publishers = append(publishers, wordpress.New(&config.WordPress, fetcher, nil))
	}
	if config.SMTP.IsConfigured() {
		mailer := email.New(&config.SMTP, email.NewDialer(&config.SMTP), layout, fetcher)
		publishers = append(publishers, mailer)
		bulk = mailer
	}
	registry := publisher.NewRegistry(publishers...)
	log.Infoj(log.JSON{"event": "channels_configured", "channels": registry.Channels()})

	store, err := reportstore.New(config)
	if err != nil {
		log.Fatalf("report store: %+v", err)
	}
	defer store.Close()

	svc := publish.New(config, registry, store, bulk)

	auth, err := handlers.Authenticate(config)
	if err != nil {
		log.Fatalf("auth: %+v", err)
	}

	server := echo.New()
	server.HideBanner = true
	server.Validator = handlers.NewValidator()
	server.HTTPErrorHandler = handlers.ErrorHandler
	server.Use(middleware.BodyLimit("100M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("herald"))
	server.Use(middleware.Recover())
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.Server.Origins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID, handlers.HeaderAPIKey},
	}))
	if config.Server.RateLimit > 0 {
		server.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(config.Server.RateLimit))))
	}

	server.Logger.SetLevel(config.LogLevel())

	handlers.Routes(server, svc, auth)

	metrics := echo.New()
	metrics.HideBanner = true
	metrics.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metrics.Start(config.MetricsAddress()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(config.ServerAddress()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), config.Dispatch.ChannelTimeout+10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %+v", err)
	}
	if err := metrics.Shutdown(ctx); err != nil {
		log.Errorf("metrics shutdown: %+v", err)
	}
}

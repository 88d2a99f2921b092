// callbridge: bridges telephony calls to live speech recognition and a realtime
// dialogue model. Accepts one WebSocket per call and dials the two AI legs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/teslashibe/go-callbridge/internal/config"
	"github.com/teslashibe/go-callbridge/internal/log"
	"github.com/teslashibe/go-callbridge/pkg/dispatch"
	"github.com/teslashibe/go-callbridge/pkg/leg"
	"github.com/teslashibe/go-callbridge/pkg/monitor"
	"github.com/teslashibe/go-callbridge/pkg/pacer"
	"github.com/teslashibe/go-callbridge/pkg/protocol"
	"github.com/teslashibe/go-callbridge/pkg/session"
	"github.com/teslashibe/go-callbridge/pkg/webhook"
)

var (
	version = "1.0.0"
	port    = flag.Int("port", 0, "HTTP server port (overrides PORT)")
	debug   = flag.Bool("debug", false, "Enable debug logging")
)

const (
	shutdownTimeout = 10 * time.Second
	legPingPeriod   = 30 * time.Second
)

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg := config.Load()
	if *port > 0 {
		cfg.Port = *port
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	log.Init(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	dialer := leg.NewDialer(map[leg.Role]leg.Endpoint{
		leg.RoleRecognition: {URL: cfg.DeepgramURL, Header: leg.TokenHeader(cfg.DeepgramAPIKey)},
		leg.RoleDialogue:    {URL: cfg.OpenAIURL, Header: leg.BearerHeader(cfg.OpenAIAuthToken)},
	}, leg.WithPingPeriod(legPingPeriod))

	var action dispatch.Action
	if cfg.WebhookURL != "" {
		action = webhook.New(cfg.WebhookURL, cfg.WebhookTimeout)
	} else {
		log.Warn("MAKE_WEBHOOK_URL not set, tool calls will be dropped")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := monitor.New()
	go hub.Run(ctx)

	manager := session.NewManager(session.Config{
		Dialer: dialer,
		Pacer: pacer.Config{
			PacketSize: cfg.PacketSize,
			Interval:   cfg.PacketInterval,
		},
		KeepAliveInterval: cfg.KeepAliveInterval,
		Dialogue: protocol.SessionOptions{
			Instructions:        cfg.Instructions,
			Voice:               cfg.Voice,
			Language:            cfg.Language,
			TranscriptionPrompt: cfg.Prompt,
			Temperature:         cfg.Temperature,
			TurnDetection:       protocol.DefaultTurnDetection(),
		},
		Action:        action,
		ActionTimeout: cfg.WebhookTimeout,
		Greeting:      cfg.Greeting,
		Monitor:       hub,
	}, session.WithLegOptions(leg.WithPingPeriod(legPingPeriod)))

	app := fiber.New(fiber.Config{
		AppName:               "callbridge",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if *debug {
		app.Use(logger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"version":  version,
			"sessions": manager.Count(),
			"monitors": hub.ClientCount(),
		})
	})
	app.Get("/metrics", manager.MetricsHandler())

	api := app.Group("/api")
	manager.RegisterAPIRoutes(api)

	hub.RegisterRoutes(app)
	manager.RegisterRoutes(app)

	go func() {
		addr := cfg.Addr()
		log.Info("starting server", "addr", addr, "version", version)
		log.Info("endpoints",
			"telephony", fmt.Sprintf("ws://localhost:%d/ws/telephony", cfg.Port),
			"monitor", fmt.Sprintf("ws://localhost:%d/ws/monitor", cfg.Port),
			"health", fmt.Sprintf("http://localhost:%d/health", cfg.Port))

		if err := app.Listen(addr); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn("sessions still open at shutdown", "error", err)
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	cancel()

	log.Info("goodbye")
}

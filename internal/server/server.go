package server

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"

	"crash/internal/cache"
	"crash/internal/database"
	"crash/internal/game"
	"crash/internal/ledger"
	"crash/internal/logging"
)

// Deps are the components the HTTP surface serves. DB and Cache may be nil
// when the process runs without them.
type Deps struct {
	Manager *game.Manager
	Hub     *game.Hub
	Ledger  *ledger.Ledger
	DB      database.Service
	Cache   *cache.Mirror
	Log     *zap.Logger

	// RateLimit is the number of requests per minute and client, 0 disables.
	RateLimit int
	// Local prints the startup banner and route table.
	Local bool
}

type FiberServer struct {
	*fiber.App

	db          database.Service
	cache       *cache.Mirror
	gameManager *game.Manager
	gameHub     *game.Hub
	ledger      *ledger.Ledger
	log         *zap.Logger
}

func New(d Deps) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:          "crash",
			AppName:               "crash",
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
			IdleTimeout:           120 * time.Second,
			StrictRouting:         false,
			DisableStartupMessage: !d.Local,
			EnablePrintRoutes:     d.Local,
			ErrorHandler:          errorHandler,
		}),

		db:          d.DB,
		cache:       d.Cache,
		gameManager: d.Manager,
		gameHub:     d.Hub,
		ledger:      d.Ledger,
		log:         logging.OrNop(d.Log).Named("server"),
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(requestid.New())
	server.App.Use(server.requestLogger)
	if d.RateLimit > 0 {
		server.App.Use(limiter.New(limiter.Config{
			Max:        d.RateLimit,
			Expiration: 1 * time.Minute,
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/ws"
			},
		}))
	}

	server.RegisterFiberRoutes()
	return server
}

// requestLogger logs one line per request with its id and latency.
func (s *FiberServer) requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		} else {
			status = fiber.StatusInternalServerError
		}
	}

	fields := []zap.Field{
		zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)),
	}
	if status >= fiber.StatusInternalServerError {
		s.log.Error("request failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Debug("request", fields...)
	}
	return err
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"message": msg,
	})
}

// Shutdown stops accepting requests and closes the connections the server
// owns.
func (s *FiberServer) Shutdown() error {
	s.log.Info("shutting down")

	err := s.App.ShutdownWithTimeout(10 * time.Second)

	// Close connections
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return err
}

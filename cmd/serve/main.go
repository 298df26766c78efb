package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"modelgate/internal/audit"
	"modelgate/internal/handlers/model"
	"modelgate/internal/middleware"
	"modelgate/internal/routers"
	"modelgate/internal/shared"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Flags / ENV Variables
	port := flag.String("port", "3000", "Listen port")
	debug := flag.Bool("debug", false, "Debug enabled")
	auditDSN := flag.String("audit-dsn", "", "Audit database DSN, empty disables SQL auditing")
	redisAddr := flag.String("redis-addr", "", "Redis host:port, empty disables stats caching")
	metricsAPIKey := flag.String("metrics-api-key", "", "Metrics api key")
	rateLimitRPS := flag.Float64("ratelimit-rps", shared.DefaultRateLimitRPS, "Per-caller requests per second, 0 disables")
	rateLimitBurst := flag.Int("ratelimit-burst", shared.DefaultRateLimitBurst, "Per-caller burst")

	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	var logger *zap.Logger
	if !*debug {
		logger, err = zap.NewProduction()
		if err != nil {
			panic("Failed init logger")
		}
	}
	if *debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic("Failed init logger")
		}
	}
	log := logger.Sugar()

	// Optional audit backends
	var auditDB *sql.DB
	var redisClient *redis.Client
	var recorder *audit.Recorder
	if *auditDSN != "" {
		auditDB, err = sql.Open("mysql", *auditDSN)
		if err != nil {
			panic(fmt.Sprintf("failed initializing audit db: %s", err))
		}
		err = auditDB.Ping()
		if err != nil {
			panic(fmt.Sprintf("failed ping to audit db: %s", err))
		}
		var stats audit.StatsCache
		if *redisAddr != "" {
			redisClient = redis.NewClient(&redis.Options{
				Addr:     *redisAddr,
				Password: "",
				DB:       0,
			})
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				panic(fmt.Sprintf("failed ping to redis db: %s", err))
			}
			stats = audit.NewRedisStats(redisClient)
		}
		recorder = audit.NewRecorder(audit.NewSQLSink(auditDB), stats, log)
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		if auditDB != nil {
			_ = auditDB.Close()
		}
	}()

	svc, cleanup, err := model.BuildService(log)
	if err != nil {
		panic(fmt.Sprintf("failed building service: %s", err))
	}
	defer cleanup()
	if recorder != nil {
		svc.SetAuditRecorder(recorder)
	}

	if err := svc.Startup(context.Background()); err != nil {
		panic(fmt.Sprintf("failed service startup: %s", err))
	}

	e := echo.New()
	e.Pre(middleware.NewPingRewriteMiddleware())
	routers.RegisterHealthRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(401, "Missing or invalid API key")
			}

			if apiKey != *metricsAPIKey {
				return c.String(401, "Unauthorized API key")
			}
			return next(c)
		}
	})

	base := e.Group("")
	base.Use(emw.CORS())
	base.Use(middleware.NewRecoverMiddleware(log))
	base.Use(middleware.NewTrackMiddleware(log, svc.State()))
	if *rateLimitRPS > 0 {
		limiter := middleware.NewKeyedLimiter(*rateLimitRPS, *rateLimitBurst, shared.RateLimitIdleTTL)
		base.Use(middleware.NewRateLimitMiddleware(limiter))
	}

	routers.RegisterServiceRoutes(base, svc)
	routers.MountApp(e, "/subapp", subApp())

	go func() {
		if err := e.Start(":" + *port); err != nil && err != http.ErrServerClosed {
			e.Logger.Fatal("shutting down the server")
		}
	}()
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutCtx, cancel := context.WithTimeout(context.Background(), shared.DefaultShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutCtx); err != nil {
		e.Logger.Fatal(err)
	}
	svc.Shutdown(shutCtx)
}

// subApp is a plainly mounted side application outside the dispatcher.
func subApp() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"Hello": "World"})
	})
	return mux
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/wotrack_backend/config"
	"github.com/mmdatafocus/wotrack_backend/middlewares"
	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/mmdatafocus/wotrack_backend/utils"
	"github.com/mmdatafocus/wotrack_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("wotrack-backend")

// services is installed once the database is reachable; handlers answer 503 until then.
type services struct {
	repo         models.Repository
	definitions  models.ProcessDefinitionStore
	reconciler   *workflow.Reconciler
	transitioner *workflow.Transitioner
}

type serviceRef struct {
	p atomic.Pointer[services]
}

func (r *serviceRef) get() *services  { return r.p.Load() }
func (r *serviceRef) set(s *services) { r.p.Store(s) }
func (r *serviceRef) ready() bool     { return r.p.Load() != nil }

func newServices(repo models.Repository, definitions models.ProcessDefinitionStore, locker workflow.OrderLocker, publisher workflow.EventPublisher) *services {
	return &services{
		repo:         repo,
		definitions:  definitions,
		reconciler:   workflow.NewReconciler(repo, locker),
		transitioner: workflow.NewTransitioner(repo, locker, publisher),
	}
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if config.IsProduction() {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "PATCH", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return corsConfig
}

func newRouter(logger *logrus.Logger, ref *serviceRef) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.Use(cors.New(corsConfig()))

	// Optional rate limiting.
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDRESS")})
		limit := int64(config.IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600))
		window := time.Duration(config.IntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second
		r.Use(middlewares.NewRateLimiter(client, limit, window).RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api", func(c *gin.Context) {
		if !ref.ready() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service not ready"})
			return
		}
		c.Next()
	})
	h := &handlers{ref: ref, logger: logger}

	anyone := middlewares.RequireRole(utils.RoleAdmin, utils.RoleSupervisor, utils.RoleUser)
	managers := middlewares.RequireRole(utils.RoleAdmin, utils.RoleSupervisor)
	admins := middlewares.RequireRole(utils.RoleAdmin)

	api.GET("/products", anyone, h.listDefinitions)
	api.GET("/products/:productId/definition", anyone, h.getDefinition)
	api.PUT("/products/:productId/definition", admins, h.putDefinition)
	api.GET("/products/:productId/template", managers, h.downloadTemplate)
	api.POST("/products/:productId/import", admins, h.importWorkbook)
	api.POST("/detect-headers", admins, h.detectHeaders)

	api.GET("/products/:productId/orders", anyone, h.listOrders)
	api.GET("/products/:productId/summary", anyone, h.productSummary)
	api.PATCH("/products/:productId/orders/:woId/steps", anyone, h.transitionStep)
	api.GET("/products/:productId/orders/:woId/audit", anyone, h.orderAudit)
	api.POST("/products/:productId/orders/:woId/comments", anyone, h.addComment)
	api.GET("/products/:productId/orders/:woId/comments", anyone, h.listComments)
	api.GET("/audit/actors/:actorId", managers, h.actorAudit)

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen first; /api answers 503 until dependencies are connected.
	ref := &serviceRef{}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger, ref),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	definitions := models.NewGormProcessDefinitionStore(db)
	if path := config.ProcessDefinitionsFile(); path != "" {
		defs, err := models.LoadProcessDefinitionsFile(path)
		if err == nil {
			err = models.SeedProcessDefinitions(sigCtx, definitions, defs)
		}
		if err != nil {
			logger.WithFields(logrus.Fields{"field": "process definitions", "path": path}).Error(err.Error())
		} else {
			logger.WithFields(logrus.Fields{"field": "process definitions", "count": strconv.Itoa(len(defs))}).Info("seeded process definitions")
		}
	}

	ref.set(newServices(
		models.NewGormRepository(db),
		definitions,
		workflow.NewOrderLocker(),
		workflow.NewEventPublisher(sigCtx),
	))
	logger.WithFields(logrus.Fields{"info": "Connection Established"}).Info("listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger logs only requests that recorded errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

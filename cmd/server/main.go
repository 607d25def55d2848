package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/genetica-tools/kinship-api/internal/cache"
	"github.com/genetica-tools/kinship-api/internal/errors"
	"github.com/genetica-tools/kinship-api/internal/middleware"
	"github.com/genetica-tools/kinship-api/internal/monitoring"
	"github.com/genetica-tools/kinship-api/internal/probability"
	"github.com/genetica-tools/kinship-api/internal/ratelimit"
	"github.com/genetica-tools/kinship-api/internal/reference"
	"github.com/genetica-tools/kinship-api/internal/security"
	"github.com/genetica-tools/kinship-api/internal/types"
)

const serviceVersion = "1.0.0"

// config holds the environment-derived server configuration
type config struct {
	Port          string
	DataDir       string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	RetentionDays int
	CacheTTL      time.Duration
}

func loadConfig() config {
	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			redisDB = parsed
		}
	}

	retentionDays := 365
	if v := os.Getenv("ANALYSIS_RETENTION_DAYS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			retentionDays = parsed
		}
	}

	cacheTTL := 15 * time.Minute
	if v := os.Getenv("CACHE_TTL_MINUTES"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cacheTTL = time.Duration(parsed) * time.Minute
		}
	}

	return config{
		Port:          getEnvOrDefault("PORT", "8080"),
		DataDir:       getEnvOrDefault("DATA_DIR", "./data"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RetentionDays: retentionDays,
		CacheTTL:      cacheTTL,
	}
}

// application bundles every long-lived dependency the handlers need
type application struct {
	cfg         config
	catalog     *reference.Catalog
	store       *reference.Store
	metrics     *monitoring.Metrics
	logger      *monitoring.Logger
	cache       *cache.Cache
	limiter     *ratelimit.RateLimiter
	compression *middleware.CompressionMiddleware
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	// The reference dataset is the whole point of the service; refusing to
	// start without it beats serving empty rankings.
	catalog, err := reference.LoadCatalog(cfg.DataDir)
	if err != nil {
		appErr := errors.NewConfigurationError("reference dataset unavailable", err)
		slog.Error("Failed to load reference catalog", "error", appErr)
		os.Exit(1)
	}
	slog.Info("Reference catalog loaded", "profiles", catalog.Len())

	store, err := reference.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed to initialize reference store", "error", err)
		os.Exit(1)
	}
	defer errors.SafeClose(store, "reference store")

	if err := store.Seed(context.Background(), catalog); err != nil {
		slog.Error("Failed to seed reference store", "error", err)
		os.Exit(1)
	}

	appMetrics := monitoring.NewMetrics()
	appLogger := monitoring.NewLogger()

	redisClient, err := ratelimit.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		slog.Warn("Redis unavailable, continuing with in-memory rate limiting", "error", err)
	}
	defer errors.SafeClose(redisClient, "redis client")

	limiter := ratelimit.NewRateLimiter(redisClient, ratelimit.DefaultConfig(), appMetrics)

	app := &application{
		cfg:         cfg,
		catalog:     catalog,
		store:       store,
		metrics:     appMetrics,
		logger:      appLogger,
		cache:       cache.NewCache(cfg.CacheTTL),
		limiter:     limiter,
		compression: middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig()),
	}

	router := setupRouter(app)

	// Audit-log retention sweep, once a day.
	retentionCtx, stopRetention := context.WithCancel(context.Background())
	defer stopRetention()
	go app.runRetentionSweeps(retentionCtx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Port, "profiles", catalog.Len())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

// runRetentionSweeps deletes audit-log rows past the retention window once
// per day until ctx is cancelled.
func (app *application) runRetentionSweeps(ctx context.Context) {
	retention := time.Duration(app.cfg.RetentionDays) * 24 * time.Hour

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := app.store.CleanupAnalyses(ctx, retention)
			if err != nil {
				slog.Error("Analysis retention sweep failed", "error", err)
				continue
			}
			app.logger.RetentionLogger(removed, retention)
		}
	}
}

// setupRouter wires the full middleware chain and route table. It is
// factored out of main so the integration tests can run the real stack
// against httptest.
func setupRouter(app *application) *gin.Engine {
	r := gin.New()

	r.Use(app.compression.Handler())
	r.Use(monitoring.MonitoringMiddleware(app.metrics, app.logger))
	r.Use(requestIDMiddleware())
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())

	securityConfig := security.DefaultSecurityConfig()
	securityMiddleware := security.NewSecurityMiddleware(securityConfig)
	r.Use(securityMiddleware.SecurityHeaders)
	r.Use(securityMiddleware.RequestTimeout)
	r.Use(securityMiddleware.ValidateContentType)
	r.Use(securityMiddleware.LimitBodySize)

	r.Use(cors.New(cors.Config{
		AllowOrigins:     securityConfig.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.Use(app.limiter.IPRateLimitMiddleware())
	r.Use(app.cache.Middleware(app.metrics))

	r.GET("/", app.handleRoot)
	r.GET("/health", app.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/relationships", app.handleRelationships)
		api.GET("/relationships/:code/histogram", app.handleHistogram)
		api.GET("/endogamy/help", app.handleEndogamyHelp)
	}

	v1 := r.Group("/api/v1")
	{
		analyzeLimit := ratelimit.DefaultConfig().AnalyzeLimitPerMin
		v1.POST("/analyze", app.limiter.EndpointRateLimitMiddleware("analyze", analyzeLimit), app.handleAnalyze)
		v1.GET("/analyses/recent", app.handleRecentAnalyses)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, app.metrics.GetStats())
	})
	r.GET("/cache/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, app.cache.Stats())
	})
	r.GET("/ratelimit/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"limiter": app.limiter.GetStats(),
			"blocks":  app.metrics.GetRateLimitStats(),
		})
	})
	r.GET("/pools/database", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pool":  "database",
			"stats": app.store.GetPoolStats(),
		})
	})
	r.GET("/pools/compression", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"pool":  "compression",
			"stats": app.compression.GetStats(),
		})
	})

	return r
}

// requestIDMiddleware assigns a request ID when the client did not send one
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
			c.Request.Header.Set("X-Request-ID", requestID)
		}
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (app *application) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "kinship-api",
		"version": serviceVersion,
		"endpoints": []string{
			"/api/relationships",
			"/api/relationships/{code}/histogram",
			"/api/endogamy/help",
			"/api/v1/analyze",
			"/api/v1/analyses/recent",
			"/health",
			"/metrics",
		},
	})
}

func (app *application) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   serviceVersion,
		"profiles":  app.catalog.Len(),
		"metrics":   app.metrics.GetStats(),
	})
}

// handleRelationships lists the reference catalog, optionally narrowed to
// the profiles whose range contains ?cm=.
func (app *application) handleRelationships(c *gin.Context) {
	cmParam := strings.TrimSpace(c.Query("cm"))
	if cmParam == "" {
		c.JSON(http.StatusOK, gin.H{
			"relationships": app.catalog.Profiles(),
			"count":         app.catalog.Len(),
		})
		return
	}

	cm, err := strconv.ParseFloat(cmParam, 64)
	if err != nil {
		appErr := errors.NewBadRequestError("cm must be a number", err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}
	if cm <= 0 || cm > types.MaxSharedCM {
		appErr := errors.NewValidationError(types.ErrSharedCMOutOfRange.Error(), types.ErrSharedCMOutOfRange)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	matched := app.catalog.MatchingCM(cm)
	c.JSON(http.StatusOK, gin.H{
		"shared_cm":     cm,
		"relationships": matched,
		"count":         len(matched),
	})
}

func (app *application) handleHistogram(c *gin.Context) {
	code := c.Param("code")

	profile, ok := app.catalog.ByCode(code)
	if !ok {
		appErr := errors.NewNotFoundError("relationship " + code)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":      profile.Code,
		"name":      profile.Name,
		"histogram": profile.Histogram,
	})
}

func (app *application) handleEndogamyHelp(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"levels": types.Levels(),
		"description": "Endogamous populations share more DNA than the pedigree distance predicts. " +
			"Pick the level matching the tested family's history; the shared amount is divided by the " +
			"factor below before candidate ranking.",
		"factors": probability.EndogamyFactorTables(),
	})
}

// handleAnalyze scores one analysis request against the full catalog.
func (app *application) handleAnalyze(c *gin.Context) {
	start := time.Now()

	var req types.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		appErr := errors.NewBadRequestError("invalid JSON payload", err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	candidates, err := probability.ScoreAll(req, app.catalog.Profiles())
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	app.metrics.IncrementAnalysis()

	topCode := ""
	topProbability := 0.0
	if len(candidates) > 0 {
		topCode = candidates[0].Code
		topProbability = candidates[0].Probability
	} else {
		app.metrics.IncrementNoCandidates()
	}

	analysisID := app.recordAnalysis(c, req, topCode, topProbability, len(candidates))

	app.logger.AnalysisLogger(req.SharedCM, len(candidates), topCode, topProbability, time.Since(start), false)

	response := gin.H{
		"analysis_id":     analysisID,
		"shared_cm":       req.SharedCM,
		"candidates":      candidates,
		"candidate_count": len(candidates),
		"summary":         summarizeCandidates(candidates),
	}
	if req.EndogamyLevel != "" && req.EndogamyLevel != types.EndogamyNone {
		response["endogamy_level"] = req.EndogamyLevel
	}
	if len(candidates) == 0 {
		response["message"] = "no known relationship matches this shared amount"
	}

	c.JSON(http.StatusOK, response)
}

// summarizeCandidates renders a one-line human-readable reading of the
// ranking. Presentation only; the scoring core never sees it.
func summarizeCandidates(candidates []probability.Candidate) string {
	switch len(candidates) {
	case 0:
		return "The shared amount falls outside every known relationship range."
	case 1:
		return fmt.Sprintf("%s is the only relationship consistent with this shared amount.", candidates[0].Name)
	default:
		top := candidates[0]
		return fmt.Sprintf("%s is the most likely of %d candidate relationships (%.0f%% probability).",
			top.Name, len(candidates), top.Probability*100)
	}
}

// recordAnalysis appends the request to the audit log. Logging failures are
// reported but never fail the request.
func (app *application) recordAnalysis(c *gin.Context, req types.AnalysisRequest, topCode string, topProbability float64, candidateCount int) string {
	requestJSON, err := reference.MarshalRequest(req)
	if err != nil {
		slog.Error("Failed to marshal analysis for audit log", "error", err)
		return ""
	}

	id, err := app.store.RecordAnalysis(c.Request.Context(), requestJSON, topCode, topProbability, candidateCount, c.ClientIP())
	if err != nil {
		slog.Error("Failed to record analysis", "error", err)
		return ""
	}
	return id
}

func (app *application) handleRecentAnalyses(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	records, err := app.store.RecentAnalyses(c.Request.Context(), limit)
	if err != nil {
		appErr := errors.ToAppError(err)
		errors.LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, appErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analyses": records,
		"count":    len(records),
	})
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

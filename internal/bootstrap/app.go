package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/ankit-raj78/synxSphere-sub001/internal/handler/http"
	wsHandler "github.com/ankit-raj78/synxSphere-sub001/internal/handler/websocket"
	"github.com/ankit-raj78/synxSphere-sub001/internal/hub"
	gormpersistence "github.com/ankit-raj78/synxSphere-sub001/internal/infra/persistence/gorm"
	"github.com/ankit-raj78/synxSphere-sub001/internal/infra/setup"
	redisstate "github.com/ankit-raj78/synxSphere-sub001/internal/infra/state/redis"
	"github.com/ankit-raj78/synxSphere-sub001/internal/middleware"
	"github.com/ankit-raj78/synxSphere-sub001/internal/service"
	"github.com/ankit-raj78/synxSphere-sub001/internal/tasks"
	"github.com/ankit-raj78/synxSphere-sub001/internal/worker"
)

// Config holds everything loaded from the environment.
type Config struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	JWTSecret  string
	ServerPort string
	LogLevel   string
	AppEnv     string

	RateLimitMax    int
	RateLimitWindow time.Duration

	// Per-session inbound frame budget inside a connection.
	MsgRateLimit  int
	MsgRateWindow time.Duration

	SessionTimeout time.Duration
	LockTTL        time.Duration
	LockTTLMax     time.Duration
	ReplayWindow   int
	SnapshotTTL    time.Duration
}

// LoadConfig reads configuration from the environment, with .env as a
// convenience for development.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),

		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
		MsgRateLimit:    60,
		MsgRateWindow:   1 * time.Second,
		SessionTimeout:  90 * time.Second,
		LockTTL:         30 * time.Second,
		LockTTLMax:      5 * time.Minute,
		ReplayWindow:    512,
		SnapshotTTL:     10 * time.Minute,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))

	if v, err := strconv.Atoi(os.Getenv("REPLAY_WINDOW")); err == nil && v > 0 {
		cfg.ReplayWindow = v
	}
	if v, err := strconv.Atoi(os.Getenv("MSG_RATE_LIMIT")); err == nil && v > 0 {
		cfg.MsgRateLimit = v
	}
	if v, err := strconv.Atoi(os.Getenv("SESSION_TIMEOUT_SECONDS")); err == nil && v > 0 {
		cfg.SessionTimeout = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("LOCK_TTL_SECONDS")); err == nil && v > 0 {
		cfg.LockTTL = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(os.Getenv("LOCK_TTL_MAX_SECONDS")); err == nil && v > 0 {
		cfg.LockTTLMax = time.Duration(v) * time.Second
	}

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "sx:"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// App holds the wired components of the application.
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
	scheduler      *asynq.Scheduler
}

// NewApp creates and wires all application components.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	logrus.SetLevel(logLevel)
	log.Info("Configuration loaded successfully")

	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	log.Info("Redis client initialized")

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Asynq client initialized")

	log.Info("Initializing repositories...")
	projectRepo := gormpersistence.NewGormProjectRepository(db)
	ownershipRepo := gormpersistence.NewGormOwnershipRepository(db)
	eventRepo := gormpersistence.NewGormEventRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	log.Info("Initializing services...")
	registry := service.NewRegistry(ownershipRepo, cfg.LockTTL, cfg.LockTTLMax)
	directory := service.NewDirectory(projectRepo, stateRepo, cfg.SessionTimeout)
	persistQueue := tasks.NewQueue(asynqClient)
	broadcaster := service.NewBroadcaster(registry, stateRepo, eventRepo, projectRepo, persistQueue, cfg.ReplayWindow)
	reconciler := service.NewReconciler(stateRepo, eventRepo, projectRepo, broadcaster, cfg.ReplayWindow, cfg.SnapshotTTL)
	snapshots := service.NewSnapshots(projectRepo, stateRepo, broadcaster, cfg.SnapshotTTL)
	access := service.NewProjectAccess(projectRepo)
	log.Info("Services initialized")

	log.Info("Initializing hub...")
	hubInstance := hub.NewHub(broadcaster, reconciler, registry, directory, stateRepo, cfg.MsgRateLimit, cfg.MsgRateWindow)
	log.Info("Hub initialized")

	wsH := wsHandler.NewHandler(hubInstance, directory, access)
	projectH := httpHandler.NewProjectHandler(directory, broadcaster, stateRepo)

	log.Info("Initializing worker server...")
	persistHandler := worker.NewEventPersistHandler(eventRepo, broadcaster)
	snapshotHandler := worker.NewSnapshotCheckHandler(hubInstance, snapshots)
	sweepHandler := worker.NewSessionSweepHandler(hubInstance, directory, registry, broadcaster)
	workerServer := worker.NewWorkerServer(redisClientOpt, persistHandler, snapshotHandler, sweepHandler, log)
	log.Info("Worker server initialized")

	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api").Use(middleware.Auth(cfg.JWTSecret))
	{
		api.GET("/projects/:projectId/presence", projectH.GetPresence)
		api.GET("/projects/:projectId/status", projectH.GetStatus)
	}
	wsRoutes := router.Group("/ws").Use(middleware.Auth(cfg.JWTSecret))
	{
		wsRoutes.GET("/project/:projectId", wsH.HandleConnection)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")

	return app, nil
}

// Start launches the hub, the worker, the periodic scheduler, and the
// HTTP server.
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	a.scheduler = asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	register := func(schedule, taskType string) {
		task := asynq.NewTask(taskType, nil)
		entryID, err := a.scheduler.Register(schedule, task, asynq.Queue("default"))
		if err != nil {
			a.Log.Errorf("Could not register periodic task %s: %v", taskType, err)
			return
		}
		a.Log.Infof("Periodic task %s registered with schedule '%s' (EntryID: %s)", taskType, schedule, entryID)
	}

	register("@every 1m", tasks.TypeSessionSweep)
	register("@every 5m", tasks.TypeSnapshotCheck)

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := a.scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}

	if a.Hub != nil {
		a.Hub.Stop()
	}

	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware logs every HTTP request with latency and status.
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Info("Request handled")
		}
	}
}

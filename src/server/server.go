package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"lumendb/src/auth"
	"lumendb/src/backup"
	"lumendb/src/directors"
	"lumendb/src/engine"
	"lumendb/src/hashindex"
	"lumendb/src/settings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const databaseVersion = "1.0"

// Server is the JSON-over-HTTP front of the engine.
type Server struct {
	Host        string
	Port        int
	AuthEnabled bool

	manager    *directors.ServiceManager
	users      *auth.UserStore
	tokens     *auth.TokenStore
	backups    *backup.Manager
	router     *gin.Engine
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// InitServer wires the engine and returns a server ready to Start.
func InitServer(config *settings.Arguments) (*Server, error) {
	var logger *zap.Logger
	var err error

	if config.Debug {
		// Development configuration with more verbose output
		z := zap.NewDevelopmentConfig()
		z.OutputPaths = []string{"stdout"}
		logger, err = z.Build()
	} else {
		// Production configuration
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Create a sugared logger for easier API
	sugar := logger.Sugar()

	// Replace standard log with zap
	zap.ReplaceGlobals(logger)

	// Create the database storage engine; it also locks the data directory.
	databaseStore, err := engine.NewDatabaseStore(config.DataDir, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create database store: %w", err)
	}

	databaseService, err := directors.NewDatabaseService(databaseStore, "lumendb", databaseVersion, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create database service: %w", err)
	}

	// Create the collection storage engine
	collectionStore, err := engine.NewCollectionStore(config.DataDir, config.DocumentCacheSize, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection store: %w", err)
	}

	// Create the index storage engine and service
	indexStore, err := hashindex.NewIndexStore(config.DataDir, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create index store: %w", err)
	}
	indexService := hashindex.NewHashIndexService(indexStore, sugar)

	// Create the mutation journal
	journal, err := engine.NewJournal(config.JournalDir, config.MaxJournalFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create journal: %w", err)
	}

	documentFactory := engine.NewDocumentFactory()
	collectionService := directors.NewCollectionService(
		collectionStore, documentFactory, indexService, journal, sugar, config)

	manager := directors.NewServiceManager(
		databaseService, collectionService, databaseStore, journal, sugar)

	// Install the process-wide singleton; later servers keep their own value.
	directors.InitServiceManager(manager)

	// Auth stores
	userStore, err := auth.NewUserStore(filepath.Join(config.DataDir, "users.json"), nil, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to open user store: %w", err)
	}
	tokenStore := auth.NewTokenStore(auth.DefaultTokenTTL)

	// Backup manager
	backupManager, err := backup.NewManager(config.DataDir, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to create backup manager: %w", err)
	}

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		Host:        config.Host,
		Port:        config.Port,
		AuthEnabled: config.AuthEnabled,
		manager:     manager,
		users:       userStore,
		tokens:      tokenStore,
		backups:     backupManager,
		logger:      sugar,
	}
	server.router = server.buildRouter()

	return server, nil
}

// AddUser registers a user, ignoring duplicates.
func (s *Server) AddUser(username, password string, role auth.Role) error {
	_, err := s.users.AddUser(username, password, role)
	if err == auth.ErrUserAlreadyExists {
		return nil
	}
	return err
}

// UserCount returns the number of registered users.
func (s *Server) UserCount() int {
	return s.users.Count()
}

// Start begins serving in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	s.logger.Infof("Listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("HTTP server error: %v", err)
		}
	}()

	return nil
}

// Stop drains in-flight requests and releases the engine.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Errorf("HTTP shutdown error: %v", err)
		}
	}

	return s.manager.Close()
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.POST("/auth/login", s.handleLogin)
	router.GET("/info", s.authRequired(), s.handleInfo)

	api := router.Group("/collections", s.authRequired())
	{
		api.GET("", s.handleListCollections)
		api.POST("", s.handleCreateCollection)
		api.DELETE("/:name", s.handleDeleteCollection)

		api.POST("/:name/documents", s.handleInsertDocument)
		api.POST("/:name/query", s.handleFindDocuments)
		api.PATCH("/:name/documents/:id", s.handleUpdateDocument)
		api.DELETE("/:name/documents/:id", s.handleDeleteDocument)

		api.GET("/:name/indexes", s.handleListIndexes)
		api.POST("/:name/indexes", s.handleCreateIndex)
		api.GET("/:name/indexes/:field", s.handleGetIndex)
		api.DELETE("/:name/indexes/:field", s.handleDeleteIndex)
		api.POST("/:name/indexes/:field/rebuild", s.handleRebuildIndex)

		api.POST("/:name/aggregate", s.handleAggregate)
	}

	admin := router.Group("/admin", s.authRequired(), s.adminRequired())
	{
		admin.GET("/backups", s.handleListBackups)
		admin.POST("/backups", s.handleCreateBackup)
		admin.POST("/backups/:backup/restore", s.handleRestoreBackup)
	}

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Infow("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Package stub is a development backend implementing the REST and push
// surface the console consumes: login, session, simulated background tasks,
// archive upload/download, and the websocket push channel. It exists so the
// SDK can be exercised end to end without a real panel server.
package stub

import (
	"context"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

// Options configures the stub backend.
type Options struct {
	// Accounts that can sign in. When empty a single admin/admin owner
	// account is seeded.
	Accounts []Account

	// Secret signs issued tokens. Defaults to a fixed development value.
	Secret []byte

	// SimulatorTick is the task simulator's advance interval; zero
	// disables the simulator (tests drive tasks by hand).
	SimulatorTick time.Duration

	Logger zerolog.Logger
}

// Server is the stub backend.
type Server struct {
	echo   *echo.Echo
	hub    *Hub
	tasks  *taskStore
	auth   *authenticator
	logger zerolog.Logger
	tick   time.Duration

	mu       sync.Mutex
	archives map[string][]byte
}

// NewServer builds the stub backend and its routes.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger.With().Str("component", "stub").Logger()

	accounts := opts.Accounts
	if len(accounts) == 0 {
		seed, err := NewAccount("u-admin", "admin", "admin", "", nil)
		if err != nil {
			return nil, err
		}
		seed.Owner = true
		accounts = []Account{seed}
	}

	secret := opts.Secret
	if len(secret) == 0 {
		secret = []byte("paneld-stub-dev-secret")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	hub := NewHub(logger)
	s := &Server{
		echo:     e,
		hub:      hub,
		tasks:    newTaskStore(hub, logger),
		auth:     newAuthenticator(secret, accounts),
		logger:   logger,
		tick:     opts.SimulatorTick,
		archives: make(map[string][]byte),
	}

	s.setupMiddleware()
	s.setupRoutes()

	go hub.Run()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogMethod:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Err(v.Error).
				Msg("request")
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.POST("/api/auth/login", s.login)

	api := s.echo.Group("/api", s.auth.middleware)
	api.GET("/users/me", s.me)
	api.GET("/system/tasks", s.listTasks)
	api.POST("/system/tasks", s.createTask)
	api.POST("/system/tasks/clear", s.clearTasks)
	api.GET("/archives/:name", s.downloadArchive)
	api.POST("/archives", s.uploadArchive)
	api.GET("/ws", s.hub.HandleWebSocket)
}

// Start begins listening and kicks off the task simulator.
func (s *Server) Start(address string) error {
	if s.tick > 0 {
		if err := s.tasks.startSimulator(s.tick); err != nil {
			return err
		}
	}
	s.logger.Info().Str("address", address).Msg("Starting stub backend")
	return s.echo.Start(address)
}

// Shutdown stops the simulator and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.tasks.stopSimulator()
	return s.echo.Shutdown(ctx)
}

// Handler exposes the stub as an http.Handler for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub exposes the push hub so tests can broadcast directly.
func (s *Server) Hub() *Hub {
	return s.hub
}

// CreateTask registers a simulated task programmatically.
func (s *Server) CreateTask(name, taskType string, total int) string {
	return s.tasks.create(name, taskType, total).ID
}

// AdvanceTasks steps the simulator once, for tests that disable the timer.
func (s *Server) AdvanceTasks() {
	s.tasks.advance()
}

// PutArchive seeds a downloadable archive.
func (s *Server) PutArchive(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archives[name] = content
}

// Archive returns an uploaded archive's bytes.
func (s *Server) Archive(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.archives[name]
	return content, ok
}

// --- Handlers ---

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) login(c echo.Context) error {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	token, err := s.auth.login(body.Username, body.Password)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Login rejected")
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (s *Server) me(c echo.Context) error {
	account := c.Get("account").(Account)

	groups := make([]map[string]string, 0, len(account.Groups))
	for id, role := range account.Groups {
		groups = append(groups, map[string]string{"id": id, "role": role})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":       account.ID,
		"username": account.Username,
		"owner":    account.Owner,
		"admin":    account.Admin,
		"role":     account.Role,
		"groups":   groups,
	})
}

func (s *Server) listTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, s.tasks.list())
}

func (s *Server) createTask(c echo.Context) error {
	var body struct {
		Name  string `json:"name"`
		Type  string `json:"type"`
		Total int    `json:"total"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if body.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "name is required"})
	}
	return c.JSON(http.StatusCreated, s.tasks.create(body.Name, body.Type, body.Total))
}

func (s *Server) clearTasks(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if body.Status != "failed" && body.Status != "success" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be failed or success"})
	}
	return c.JSON(http.StatusOK, map[string]int{"cleared": s.tasks.clear(body.Status)})
}

func (s *Server) downloadArchive(c echo.Context) error {
	name := c.Param("name")

	s.mu.Lock()
	content, ok := s.archives[name]
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "archive not found"})
	}

	// FormatMediaType emits filename*= for non-ASCII names per RFC 5987.
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	c.Response().Header().Set(echo.HeaderContentDisposition, disposition)
	return c.Blob(http.StatusOK, "application/octet-stream", content)
}

func (s *Server) uploadArchive(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file field is required"})
	}

	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer src.Close()

	content, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	s.mu.Lock()
	s.archives[file.Filename] = content
	s.mu.Unlock()

	s.logger.Info().Str("name", file.Filename).Int("bytes", len(content)).Msg("Archive uploaded")
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"name": file.Filename,
		"size": len(content),
	})
}

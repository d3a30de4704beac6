// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package server wires the HTTP routes of the community site.
package server

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/cosypolyamory/site/internal/attendance"
	"github.com/cosypolyamory/site/internal/auth"
	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/live"
	"github.com/cosypolyamory/site/internal/server/api"
)

//go:embed all:static
var staticFS embed.FS

type Config struct {
	ServiceName string
	StaticDir   string
	// ReadOnlyAfter closes every write route once passed. Zero disables it.
	ReadOnlyAfter time.Time
	// The basic auth admin area is only served while AdminPassword is set.
	AdminUser     string
	AdminPassword string
	CORSOrigins   []string
	// RateLimit is the number of writes a client may make per RateWindow.
	RateLimit  int
	RateWindow time.Duration
	Questions  []string
}

type Stores struct {
	Users        db.UserStore
	Events       db.EventStore
	RSVPs        db.RSVPStore
	Applications db.ApplicationStore
	NoShows      db.NoShowStore
	EventNotes   db.EventNoteStore
}

type Server struct {
	logger *slog.Logger
	mux    *gin.Engine
}

func NewServer(
	cfg Config,
	stores Stores,
	issuer *auth.Issuer,
	hub *live.Hub,
	svc *attendance.Service,
	notifier api.Notifier,
) (*Server, error) {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		logger: slog.Default().WithGroup("http"),
		mux:    gin.New(),
	}

	var staticDir fs.FS
	switch {
	case cfg.StaticDir != "":
		staticDir = os.DirFS(cfg.StaticDir)
	default:
		var err error
		staticDir, err = fs.Sub(staticFS, "static")
		if err != nil {
			return nil, err
		}
	}
	robots, err := fs.ReadFile(staticDir, "robots.txt")
	if err != nil {
		return nil, fmt.Errorf("reading robots.txt: %w", err)
	}

	mux := s.mux
	mux.Use(
		sloggin.NewWithConfig(s.logger,
			sloggin.Config{
				DefaultLevel:     slog.LevelInfo,
				ClientErrorLevel: slog.LevelWarn,
				ServerErrorLevel: slog.LevelError,
			},
		),
		gin.Recovery(), otelgin.Middleware(cfg.ServiceName), slogAddTraceAttributes,
	)
	if len(cfg.CORSOrigins) > 0 {
		mux.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	if !cfg.ReadOnlyAfter.IsZero() {
		mux.Use(readOnly(s.logger, cfg.ReadOnlyAfter, time.Now))
	}

	mux.StaticFS("/static", http.FS(staticDir))
	mux.GET("/robots.txt", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/plain; charset=utf-8", robots)
	})

	site := mux.Group("/", authenticate(s.logger, issuer, stores.Users))

	writes := []gin.HandlerFunc{requireLogin}
	if cfg.RateLimit > 0 {
		writes = append(writes, newRateLimiter(cfg.RateLimit, cfg.RateWindow).middleware)
	}

	events := api.NewEventHandler(stores.Events, stores.Users, stores.EventNotes, svc, hub)
	site.GET("/events", events.List)
	site.GET("/events/:id", events.Get)
	site.GET("/events/:id/live", events.Live)
	site.GET("/events/:id/control", requireLogin, events.Control)
	site.POST("/events/:id/rsvp", append(writes, events.RSVP)...)
	site.POST("/events/:id/manage_attendance", append(writes, events.ManageAttendance)...)

	noShows := api.NewNoShowHandler(stores.Events, stores.NoShows, svc)
	site.GET("/events/:id/no-shows", requireLogin, noShows.List)
	site.POST("/events/:id/no-shows/:user_id", append(writes, noShows.Mark)...)
	site.DELETE("/events/:id/no-shows/:user_id", append(writes, noShows.Clear)...)

	organizer := site.Group("/", requireOrganizer)
	organizer.POST("/events", events.Create)
	organizer.POST("/events/:id/edit", events.Update)
	organizer.POST("/events/:id/cancel", events.Cancel)
	organizer.POST("/events/:id/rsvps/:user_id", events.MoveRSVP)
	organizer.DELETE("/events/:id/rsvps/:user_id", events.RemoveRSVP)

	apps := api.NewApplicationHandler(stores.Applications, stores.Users, notifier, cfg.Questions)
	site.POST("/applications", append(writes, apps.Submit)...)
	site.GET("/applications/status", requireLogin, apps.Status)

	users := api.NewUserHandler(stores.Users)
	site.GET("/api/me", requireLogin, users.Me)
	site.GET("/api/users/search", requireLogin, users.Search)
	site.GET("/api/users/search/approved", requireApproved, users.SearchApproved)

	admin := api.NewAdminHandler(stores.Users, stores.Applications, stores.Events, stores.NoShows, svc, hub, issuer, notifier)
	orgAPI := site.Group("/api/admin", requireOrganizer)
	orgAPI.GET("/application-questions", apps.Questions)
	orgAPI.GET("/application/:id", apps.Get)
	orgAPI.POST("/application/:id/review", apps.Review)
	orgAPI.GET("/users/:role", admin.UsersByRole)
	orgAPI.GET("/user/:user_id", admin.UserDetail)
	orgAPI.GET("/user/:user_id/application", apps.ByUser)

	notes := api.NewEventNoteHandler(stores.EventNotes, stores.Events)
	orgAPI.GET("/event-notes", notes.List)
	adminAPI := site.Group("/api/admin", requireAdmin)
	adminAPI.POST("/change-role", admin.ChangeRole)
	adminAPI.POST("/delete-user", admin.DeleteUser)
	adminAPI.POST("/event-notes", notes.Create)
	adminAPI.GET("/event-note/:id/usage", notes.Usage)
	adminAPI.DELETE("/event-note/:id", notes.Delete)

	if cfg.AdminPassword != "" {
		adminArea := mux.Group("/admin", gin.BasicAuth(gin.Accounts{
			cfg.AdminUser: cfg.AdminPassword,
		}))
		adminArea.GET("/", admin.Dashboard)
		adminArea.POST("/tokens", admin.IssueToken)
	} else {
		s.logger.Warn("no admin password configured, admin area disabled")
	}

	mux.NoRoute(notFound)
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/auth"
	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
	"github.com/cosypolyamory/site/internal/server/api"
)

const sessionCookie = "session"

// authenticate resolves the session token to a user. Requests without a
// valid token continue anonymously.
func authenticate(logger *slog.Logger, issuer *auth.Issuer, users db.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var span trace.Span
		ctx := c.Request.Context()
		ctx, span = tracer.Start(ctx, "Middleware.authenticate")
		defer span.End()

		token := bearerToken(c.Request)
		if token == "" {
			if v, err := c.Cookie(sessionCookie); err == nil {
				token = v
			}
		}
		if token == "" {
			c.Next()
			return
		}

		claims, err := issuer.Verify(token)
		if err != nil {
			span.RecordError(err)
			logger.WarnContext(ctx, "rejected session token", "error", err)
			c.Next()
			return
		}
		user, err := users.GetUserByID(ctx, claims.Subject)
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				span.RecordError(err)
				logger.ErrorContext(ctx, "could not load session user", "user", claims.Subject, "error", err)
			}
			c.Next()
			return
		}
		span.SetAttributes(attribute.String("user.id", user.ID))
		sloggin.AddCustomAttributes(c, slog.String("user-id", user.ID))
		api.SetUser(c, user)
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func requireLogin(c *gin.Context) {
	if api.CurrentUser(c) == nil {
		api.FailReason(c, http.StatusUnauthorized, model.ErrorReasonUnauthenticated)
		return
	}
	c.Next()
}

func requireApproved(c *gin.Context) {
	u := api.CurrentUser(c)
	switch {
	case u == nil:
		api.FailReason(c, http.StatusUnauthorized, model.ErrorReasonUnauthenticated)
	case !u.IsApprovedMember():
		api.FailReason(c, http.StatusForbidden, model.ErrorReasonNotApproved)
	default:
		c.Next()
	}
}

func requireOrganizer(c *gin.Context) {
	u := api.CurrentUser(c)
	switch {
	case u == nil:
		api.FailReason(c, http.StatusUnauthorized, model.ErrorReasonUnauthenticated)
	case !u.CanOrganize():
		api.FailReason(c, http.StatusForbidden, model.ErrorReasonNotOrganizer)
	default:
		c.Next()
	}
}

func requireAdmin(c *gin.Context) {
	u := api.CurrentUser(c)
	switch {
	case u == nil:
		api.FailReason(c, http.StatusUnauthorized, model.ErrorReasonUnauthenticated)
	case u.Role != model.RoleAdmin:
		api.FailReason(c, http.StatusForbidden, model.ErrorReasonNotAdmin)
	default:
		c.Next()
	}
}

// readOnly rejects every request that is not a read once the deadline has
// passed.
func readOnly(logger *slog.Logger, deadline time.Time, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var span trace.Span
		ctx := c.Request.Context()
		ctx, span = tracer.Start(ctx, "Middleware.readOnly")
		defer span.End()

		m := c.Request.Method
		if deadline.Before(now()) && m != http.MethodGet && m != http.MethodHead && m != http.MethodOptions {
			err := errors.New("request method not allowed")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.WarnContext(ctx, "readOnly-mode", "method", m, "path", c.Request.URL.Path)
			api.FailReason(c, http.StatusMethodNotAllowed, model.ErrorReasonReadOnly)
			return
		}
		c.Next()
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"code": "PAGE_NOT_FOUND", "message": "Page not found"})
}

func slogAddTraceAttributes(c *gin.Context) {
	sloggin.AddCustomAttributes(c,
		slog.String("trace-id", trace.SpanFromContext(c.Request.Context()).SpanContext().TraceID().String()),
	)
	sloggin.AddCustomAttributes(c,
		slog.String("span-id", trace.SpanFromContext(c.Request.Context()).SpanContext().SpanID().String()),
	)
	c.Next()
}

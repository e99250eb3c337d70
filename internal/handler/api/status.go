// Package api serves the read-only pipeline API.
package api

import (
	"net/http"
	"sync/atomic"
	"time"

	"TradePipe/internal/domain/models"
	domrepo "TradePipe/internal/domain/repository"
	"TradePipe/internal/orchestrator"
	"TradePipe/internal/service/ratelimit"
	"TradePipe/pkg/cache"
	pkghttp "TradePipe/pkg/http"
	"TradePipe/pkg/logger"

	"github.com/labstack/echo/v4"
)

// StatusSource is satisfied by *orchestrator.Handle.
type StatusSource interface {
	Status() orchestrator.Status
}

// Handler exposes pipeline status and the action journal.
type Handler struct {
	status   atomic.Pointer[StatusSource]
	journal  domrepo.ActionJournal
	cache    cache.Service
	cacheTTL time.Duration
	rl       *ratelimit.Limiter
	l        *logger.Logger
}

var _ pkghttp.Handler = (*Handler)(nil)

// NewHandler builds the API. journal and c may be nil.
func NewHandler(journal domrepo.ActionJournal, c cache.Service, cacheTTL time.Duration, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		journal:  journal,
		cache:    c,
		cacheTTL: cacheTTL,
		rl:       ratelimit.New(),
		l:        log.Named("api"),
	}
}

// SetStatusSource attaches the running pipeline. Until then status
// endpoints answer 503.
func (h *Handler) SetStatusSource(s StatusSource) { h.status.Store(&s) }

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/status", h.Status)
	g.GET("/status/engines/:name", h.Engine)
	g.GET("/actions/recent", h.RecentActions)
}

func unavailable(msg string) *pkghttp.AppError {
	return pkghttp.UnavailableError(msg)
}

func (h *Handler) snapshot() (orchestrator.Status, error) {
	src := h.status.Load()
	if src == nil {
		return orchestrator.Status{}, unavailable("pipeline not started")
	}
	return (*src).Status(), nil
}

// Status returns the whole pipeline snapshot.
func (h *Handler) Status(c echo.Context) error {
	st, err := h.snapshot()
	if err != nil {
		return err
	}
	return pkghttp.SuccessResponse(c, st)
}

// Engine returns one engine's status.
func (h *Handler) Engine(c echo.Context) error {
	st, err := h.snapshot()
	if err != nil {
		return err
	}
	name := c.Param("name")
	for _, e := range st.Engines {
		if e.Name == name {
			return pkghttp.SuccessResponse(c, e)
		}
	}
	return pkghttp.NotFoundErrorf("engine %q not found", name)
}

type RecentActionsRequest struct {
	Strategy string `query:"strategy" validate:"omitempty,max=64"`
	Limit    int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

// RecentActions lists the newest journaled actions.
func (h *Handler) RecentActions(c echo.Context) error {
	if h.journal == nil {
		return unavailable("action journal disabled")
	}
	if !h.rl.Allow(c.RealIP()+":recent", 10, 5) {
		h.l.Warn("recent actions rate limited", logger.String("remote", c.RealIP()))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limited")
	}

	var req RecentActionsRequest
	if errs := pkghttp.ReadAndValidateRequest(c, &req); errs != nil {
		return pkghttp.BadRequestResponse(c, errs)
	}

	ctx := c.Request().Context()
	key := cache.GenerateKeyWithParams("recent", req.Strategy, req.Limit)
	if h.cache != nil {
		if rows, err := cache.GetTyped[[]models.Action](ctx, h.cache, key); err == nil {
			return pkghttp.ListResponse(c, rows, int64(len(rows)))
		}
	}

	rows, err := h.journal.Recent(ctx, req.Strategy, req.Limit)
	if err != nil {
		h.l.Error("recent actions", logger.Error(err))
		return pkghttp.InternalError("could not read actions").WithError(err)
	}
	if rows == nil {
		rows = []models.Action{}
	}
	if h.cache != nil {
		if err := h.cache.Set(ctx, key, rows, h.cacheTTL); err != nil {
			h.l.Warn("cache set", logger.String("key", key), logger.Error(err))
		}
	}
	return pkghttp.ListResponse(c, rows, int64(len(rows)))
}

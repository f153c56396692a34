// Package api serves a user's dashboard workspace over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"mind-ease/alerts"
	"mind-ease/analytics"
	"mind-ease/dashboard"
	"mind-ease/domain"
	"mind-ease/optimistic"
	"mind-ease/profile"
	"mind-ease/userinfo"
)

const (
	identityKey = "identity"
	metricsKey  = "metrics"

	headerIdempotencyKey = "Idempotency-Key"
	maxBodySize          = 64 << 10
)

var (
	errInvalidBody      = errors.New("invalid body")
	errUnknownAction    = errors.New("unknown timer action")
	errAnalyticsHidden  = errors.New("analytics are hidden for this navigation profile")
	errRequestInFlight  = errors.New("request with this idempotency key is still in progress")
	errStreamNotEnabled = errors.New("live events are not configured")
)

// Authenticator resolves the caller from a bearer token.
type Authenticator interface {
	IdentityFromBearer(token string) (userinfo.Identity, error)
}

// Workspaces hands out the caller's workspace.
type Workspaces interface {
	Get(ctx context.Context, id userinfo.Identity) (*dashboard.Workspace, error)
}

// Server holds the collaborators of every route. Deduper and Redis are
// optional; without Redis the stream route answers 503.
type Server struct {
	Auth       Authenticator
	Workspaces Workspaces
	Deduper    Deduper
	Redis      *redis.Client
	Logger     *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, s *Server) {
	if s.Logger == nil {
		s.Logger = log.StandardLogger()
	}
	e.Use(requestMetricsMiddleware(s.Logger))
	e.GET("/healthz", healthz)

	g := e.Group("/api", inflateRequests, s.requireUser(false))
	g.GET("/board", s.getBoard)
	g.POST("/tasks", s.createTask)
	g.POST("/tasks/reload", s.reloadTasks)
	g.PATCH("/tasks/:id", s.editTask)
	g.DELETE("/tasks/:id", s.removeTask)
	g.POST("/tasks/:id/drop", s.dropTask)
	g.PUT("/tasks/:id/order", s.reorderColumn)
	g.PUT("/tasks/:id/subtasks", s.setSubtasks)
	g.GET("/tasks/:id/timer", s.getTimer)
	g.POST("/tasks/:id/timer/:action", s.timerAction)
	g.GET("/preferences", s.getPreferences)
	g.PATCH("/preferences", s.updatePreferences)
	g.POST("/preferences/toggle/:name", s.togglePreference)
	g.GET("/profile", s.getProfile)
	g.PUT("/profile/navigation", s.setNavigationProfile)
	g.POST("/profile/needs", s.addSpecificNeed)
	g.DELETE("/profile/needs/:need", s.removeSpecificNeed)
	g.GET("/alerts", s.getAlert)
	g.POST("/alerts/dismiss", s.dismissAlert)
	g.GET("/sessions", s.getSessions)
	g.GET("/analytics/focus", s.getFocusChart)

	e.GET("/api/stream", s.streamEvents, s.requireUser(true))
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain failures onto HTTP statuses. A rolled back write
// keeps its cause, so a remote conflict or missing row wins over the
// generic write failure.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidBody), errors.Is(err, errUnknownAction),
		errors.Is(err, domain.ErrInvalidTask), errors.Is(err, domain.ErrInvalidPreferences):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoUser), errors.Is(err, errMissingAuthorization), errors.Is(err, errBadAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, errAnalyticsHidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, errRequestInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrLoadTasks), errors.Is(err, domain.ErrLoadProfile),
		errors.Is(err, dashboard.ErrClosed), errors.Is(err, errStreamNotEnabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCreateTask), errors.Is(err, domain.ErrUpdateTask),
		errors.Is(err, domain.ErrRemoveTask), errors.Is(err, domain.ErrUpdatePreferences):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c echo.Context, stage string, err error) error {
	status := statusFor(err)
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage(stage)
	}
	if status >= http.StatusInternalServerError {
		s.Logger.WithError(err).WithFields(log.Fields{"route": c.Path(), "stage": stage}).Error("request failed")
	}
	return c.JSON(status, errorResponse{Error: err.Error()})
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

func (s *Server) requireUser(allowQuery bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerTokenFromRequest(c.Request(), allowQuery)
			if err == nil {
				var id userinfo.Identity
				if id, err = s.Auth.IdentityFromBearer(token); err == nil {
					c.Set(identityKey, id)
					if m := metricsFrom(c); m != nil {
						m.SetUser(id.ID)
					}
					return next(c)
				}
			}
			if m := metricsFrom(c); m != nil {
				m.SetErrorStage("auth")
			}
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
	}
}

func (s *Server) workspace(c echo.Context) (*dashboard.Workspace, error) {
	id, _ := c.Get(identityKey).(userinfo.Identity)
	if id.ID == "" {
		return nil, domain.ErrNoUser
	}
	return s.Workspaces.Get(c.Request().Context(), id)
}

// withWorkspace resolves the caller's workspace before running fn.
func (s *Server) withWorkspace(c echo.Context, fn func(*dashboard.Workspace) error) error {
	ws, err := s.workspace(c)
	if err != nil {
		return s.fail(c, "workspace", err)
	}
	return fn(ws)
}

// respondTask answers with the task's current local state, which is also
// correct when the mutation was a no-op.
func respondTask[T any](s *Server, c echo.Context, ws *dashboard.Workspace, stage, id string, res optimistic.Result[T]) error {
	if res.Err != nil {
		return s.fail(c, stage, res.Err)
	}
	t, ok := ws.Tasks().Task(id)
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) getBoard(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		if err := ws.Tasks().Err(); err != nil {
			return s.fail(c, "load", err)
		}
		return c.JSON(http.StatusOK, ws.Board().View())
	})
}

func (s *Server) createTask(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var draft domain.TaskDraft
		if err := decodeBody(c, &draft); err != nil {
			return s.fail(c, "decode", err)
		}
		ctx := c.Request().Context()
		key := c.Request().Header.Get(headerIdempotencyKey)
		if key != "" && s.Deduper != nil {
			claimed, err := s.Deduper.Claim(ctx, ws.UserID(), key)
			if err != nil {
				s.Logger.WithError(err).Warn("idempotency check unavailable")
				key = ""
			} else if !claimed {
				return s.replayCreate(c, ws, key)
			}
		} else {
			key = ""
		}

		res := ws.Board().CreateTask(ctx, domain.Status(c.QueryParam("column")), draft)
		if res.Err != nil {
			if key != "" {
				if err := s.Deduper.Release(context.WithoutCancel(ctx), ws.UserID(), key); err != nil {
					s.Logger.WithError(err).Warn("release idempotency key")
				}
			}
			return s.fail(c, "create", res.Err)
		}
		if key != "" {
			if err := s.Deduper.Complete(context.WithoutCancel(ctx), ws.UserID(), key, res.Value.ID); err != nil {
				s.Logger.WithError(err).Warn("record idempotency key")
			}
		}
		return c.JSON(http.StatusCreated, res.Value)
	})
}

func (s *Server) replayCreate(c echo.Context, ws *dashboard.Workspace, key string) error {
	id, done, err := s.Deduper.Result(c.Request().Context(), ws.UserID(), key)
	if err != nil {
		return s.fail(c, "idempotency", err)
	}
	if !done {
		return s.fail(c, "idempotency", errRequestInFlight)
	}
	if t, ok := ws.Tasks().Task(id); ok {
		return c.JSON(http.StatusOK, t)
	}
	return s.fail(c, "idempotency", domain.ErrTaskNotFound)
}

func (s *Server) reloadTasks(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		if err := ws.Reload(c.Request().Context()); err != nil {
			return s.fail(c, "load", err)
		}
		return c.JSON(http.StatusOK, ws.Board().View())
	})
}

func (s *Server) editTask(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var patch domain.TaskPatch
		if err := decodeBody(c, &patch); err != nil {
			return s.fail(c, "decode", err)
		}
		// Columns change through /drop and positions through /order.
		if patch.Status != nil || patch.Order != nil {
			return s.fail(c, "decode", errInvalidBody)
		}
		id := c.Param("id")
		return respondTask(s, c, ws, "edit", id, ws.Tasks().EditTask(c.Request().Context(), id, patch))
	})
}

func (s *Server) removeTask(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		res := ws.RemoveTask(c.Request().Context(), c.Param("id"))
		if res.Err != nil {
			return s.fail(c, "remove", res.Err)
		}
		return c.NoContent(http.StatusNoContent)
	})
}

type dropRequest struct {
	Target string `json:"target"`
}

type dropResponse struct {
	Moved    bool          `json:"moved"`
	Rejected bool          `json:"rejected"`
	Status   domain.Status `json:"status"`
	Task     *domain.Task  `json:"task,omitempty"`
}

func (s *Server) dropTask(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var req dropRequest
		if err := decodeBody(c, &req); err != nil {
			return s.fail(c, "decode", err)
		}
		id := c.Param("id")
		res := ws.Board().ResolveDrop(c.Request().Context(), id, req.Target)
		if res.Err != nil {
			return s.fail(c, "drop", res.Err)
		}
		out := dropResponse{Moved: res.Moved, Rejected: res.Rejected, Status: res.Status}
		if t, ok := ws.Tasks().Task(id); ok {
			out.Task = &t
		}
		return c.JSON(http.StatusOK, out)
	})
}

type orderRequest struct {
	Status domain.Status `json:"status"`
	IDs    []string      `json:"ids"`
}

func (s *Server) reorderColumn(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var req orderRequest
		if err := decodeBody(c, &req); err != nil {
			return s.fail(c, "decode", err)
		}
		if !req.Status.Valid() || !slices.Contains(req.IDs, c.Param("id")) {
			return s.fail(c, "decode", errInvalidBody)
		}
		res := ws.Tasks().Reorder(c.Request().Context(), req.Status, req.IDs)
		if res.Err != nil {
			return s.fail(c, "reorder", res.Err)
		}
		return c.JSON(http.StatusOK, ws.Tasks().Column(req.Status))
	})
}

type subtasksRequest struct {
	Subtasks []domain.Subtask `json:"subtasks"`
}

func (s *Server) setSubtasks(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var req subtasksRequest
		if err := decodeBody(c, &req); err != nil {
			return s.fail(c, "decode", err)
		}
		if req.Subtasks == nil {
			req.Subtasks = []domain.Subtask{}
		}
		id := c.Param("id")
		return respondTask(s, c, ws, "subtasks", id, ws.Tasks().SetSubtasks(c.Request().Context(), id, req.Subtasks))
	})
}

func (s *Server) getTimer(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		t, err := ws.Timer(c.Param("id"))
		if err != nil {
			return s.fail(c, "timer", err)
		}
		return c.JSON(http.StatusOK, t.State())
	})
}

func (s *Server) timerAction(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		t, err := ws.Timer(c.Param("id"))
		if err != nil {
			return s.fail(c, "timer", err)
		}
		ctx := c.Request().Context()
		switch c.Param("action") {
		case "start":
			t.Start(ctx)
		case "pause":
			t.Pause()
		case "reset":
			t.Reset()
		case "complete":
			t.Complete(ctx)
		default:
			return s.fail(c, "timer", errUnknownAction)
		}
		return c.JSON(http.StatusOK, t.State())
	})
}

func (s *Server) getPreferences(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		if err := ws.Profile().Err(); err != nil {
			return s.fail(c, "load", err)
		}
		return c.JSON(http.StatusOK, ws.Profile().Preferences())
	})
}

func (s *Server) updatePreferences(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var patch domain.PreferencesPatch
		if err := decodeBody(c, &patch); err != nil {
			return s.fail(c, "decode", err)
		}
		res := ws.Profile().UpdatePreferences(c.Request().Context(), patch)
		if res.Err != nil {
			return s.fail(c, "preferences", res.Err)
		}
		return c.JSON(http.StatusOK, ws.Profile().Preferences())
	})
}

func (s *Server) togglePreference(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var toggle func(context.Context) optimistic.Result[domain.CognitivePreferences]
		switch c.Param("name") {
		case "focus-mode":
			toggle = ws.Profile().ToggleFocusMode
		case "summary-mode":
			toggle = ws.Profile().ToggleSummaryMode
		case "cognitive-alerts":
			toggle = ws.Profile().ToggleCognitiveAlerts
		case "animations":
			toggle = ws.Profile().ToggleAnimations
		default:
			return s.fail(c, "decode", errInvalidBody)
		}
		if res := toggle(c.Request().Context()); res.Err != nil {
			return s.fail(c, "preferences", res.Err)
		}
		return c.JSON(http.StatusOK, ws.Profile().Preferences())
	})
}

type profileResponse struct {
	Profile domain.UserInfo `json:"profile"`
	Config  profile.Config  `json:"config"`
}

func currentProfile(ws *dashboard.Workspace) profileResponse {
	return profileResponse{Profile: ws.Profile().Info(), Config: ws.Profile().Config()}
}

func (s *Server) getProfile(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		if err := ws.Profile().Err(); err != nil {
			return s.fail(c, "load", err)
		}
		return c.JSON(http.StatusOK, currentProfile(ws))
	})
}

type navigationRequest struct {
	NavigationProfile domain.NavigationProfile `json:"navigationProfile"`
}

func (s *Server) setNavigationProfile(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var req navigationRequest
		if err := decodeBody(c, &req); err != nil {
			return s.fail(c, "decode", err)
		}
		if profile.Normalize(req.NavigationProfile) != req.NavigationProfile {
			return s.fail(c, "decode", errInvalidBody)
		}
		if res := ws.Profile().SetNavigationProfile(c.Request().Context(), req.NavigationProfile); res.Err != nil {
			return s.fail(c, "profile", res.Err)
		}
		return c.JSON(http.StatusOK, currentProfile(ws))
	})
}

type needRequest struct {
	Need string `json:"need"`
}

func (s *Server) addSpecificNeed(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		var req needRequest
		if err := decodeBody(c, &req); err != nil {
			return s.fail(c, "decode", err)
		}
		if res := ws.Profile().AddSpecificNeed(c.Request().Context(), req.Need); res.Err != nil {
			return s.fail(c, "profile", res.Err)
		}
		return c.JSON(http.StatusOK, currentProfile(ws))
	})
}

func (s *Server) removeSpecificNeed(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		if res := ws.Profile().RemoveSpecificNeed(c.Request().Context(), c.Param("need")); res.Err != nil {
			return s.fail(c, "profile", res.Err)
		}
		return c.JSON(http.StatusOK, currentProfile(ws))
	})
}

type alertResponse struct {
	Enabled bool          `json:"enabled"`
	Alert   *alerts.Alert `json:"alert,omitempty"`
}

func (s *Server) getAlert(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		out := alertResponse{Enabled: ws.Alerts().Enabled()}
		if a, ok := ws.Alerts().Current(); ok {
			out.Alert = &a
		}
		return c.JSON(http.StatusOK, out)
	})
}

func (s *Server) dismissAlert(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		ws.Alerts().Dismiss(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})
}

type sessionsResponse struct {
	Sessions []domain.PomodoroSession `json:"sessions"`
	Totals   analytics.Totals         `json:"totals"`
}

func (s *Server) getSessions(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		sessions, err := ws.Sessions(c.Request().Context())
		if err != nil {
			return s.fail(c, "sessions", err)
		}
		if sessions == nil {
			sessions = []domain.PomodoroSession{}
		}
		return c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions, Totals: analytics.Summarize(sessions)})
	})
}

func (s *Server) getFocusChart(c echo.Context) error {
	return s.withWorkspace(c, func(ws *dashboard.Workspace) error {
		series, ok, err := ws.FocusChart(c.Request().Context())
		if !ok {
			return s.fail(c, "analytics", errAnalyticsHidden)
		}
		if err != nil {
			return s.fail(c, "sessions", err)
		}
		return c.JSON(http.StatusOK, series)
	})
}

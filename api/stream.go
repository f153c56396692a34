package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"mind-ease/domain"
	"mind-ease/stream"
)

// streamEvents relays the caller's live events as server-sent events until
// the client disconnects. Opening the stream also opens the workspace so
// alert polling runs while the user is connected.
func (s *Server) streamEvents(c echo.Context) error {
	if s.Redis == nil {
		return s.fail(c, "stream", errStreamNotEnabled)
	}
	ws, err := s.workspace(c)
	if err != nil {
		return s.fail(c, "workspace", err)
	}

	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err := res.Write([]byte(": connected\n\n")); err != nil {
		return nil
	}
	flusher.Flush()

	ctx := c.Request().Context()
	logger := s.Logger.WithField("component", "stream")
	stream.Subscribe(ctx, s.Redis, ws.UserID(), logger, func(ev domain.Event) {
		data, err := sonic.Marshal(ev)
		if err != nil {
			logger.WithError(err).Error("unable to encode event")
			return
		}
		buf := make([]byte, 0, len(ev.Type)+len(data)+16)
		buf = append(buf, "event: "...)
		buf = append(buf, ev.Type...)
		buf = append(buf, "\ndata: "...)
		buf = append(buf, data...)
		buf = append(buf, "\n\n"...)
		if _, err := res.Write(buf); err != nil {
			logger.WithError(err).Debug("stream client gone")
			return
		}
		flusher.Flush()
	})
	return nil
}

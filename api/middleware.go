package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// inflateRequests lets mobile clients send gzip-compressed JSON bodies.
// A body that is not valid gzip is answered with 400 before auth runs.
func inflateRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if !acceptsGzip(req.Header.Get(echo.HeaderContentEncoding)) {
			return next(c)
		}
		zr, err := gzip.NewReader(req.Body)
		if err != nil {
			_ = req.Body.Close()
			if m := metricsFrom(c); m != nil {
				m.SetErrorStage("decode")
			}
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid gzip body"})
		}
		req.Body = &inflatedBody{Reader: zr, raw: req.Body}
		req.ContentLength = -1
		req.Header.Del(echo.HeaderContentEncoding)
		req.Header.Del(echo.HeaderContentLength)
		return next(c)
	}
}

func acceptsGzip(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type inflatedBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b *inflatedBody) Close() error {
	err := b.Reader.Close()
	if cerr := b.raw.Close(); err == nil {
		err = cerr
	}
	return err
}

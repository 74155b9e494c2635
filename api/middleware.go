package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

// GzipRequestMiddleware inflates request bodies sent with
// Content-Encoding: gzip. A body that is not valid gzip gets a 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !gzipped(req.Header.Values(echo.HeaderContentEncoding)) {
				return next(c)
			}
			zr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "Invalid gzip body")
			}
			req.Body = inflatedBody{zr: zr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func gzipped(values []string) bool {
	for _, v := range values {
		for _, enc := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
				return true
			}
		}
	}
	return false
}

// inflatedBody reads through zr and closes both readers.
type inflatedBody struct {
	zr  *gzip.Reader
	raw io.ReadCloser
}

func (b inflatedBody) Read(p []byte) (int, error) { return b.zr.Read(p) }

func (b inflatedBody) Close() error {
	return errors.Join(b.zr.Close(), b.raw.Close())
}

const userIDContextKey = "kanban.user_id"

// RequireUser authenticates the bearer token and stores the caller's id in the
// echo context. Failures end the request with 401.
func RequireUser(auth Authenticator, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := metricsFrom(c)
			start := time.Now()
			token, err := bearerTokenFromHeader(c.Request().Header)
			var userID string
			if err == nil {
				userID, err = auth.UserIDFromBearer(token)
			}
			if m != nil {
				m.ObserveAuth(time.Since(start))
			}
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, errMissingAuthorization) {
					msg = "No token provided"
				}
				if m != nil {
					m.SetErrorStage("auth")
					m.SetError(err)
				}
				if logger != nil {
					logger.WithError(err).Debug("rejected bearer token")
				}
				return c.JSON(http.StatusUnauthorized, errorResponse{Error: msg})
			}
			if m != nil {
				m.SetUser(userID)
			}
			c.Set(userIDContextKey, userID)
			return next(c)
		}
	}
}

func userIDFrom(c echo.Context) string {
	id, _ := c.Get(userIDContextKey).(string)
	return id
}

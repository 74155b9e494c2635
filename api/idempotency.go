package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyKeyPrefix = "idem"
	idempotencyPending   = "pending"
	maxIdempotencyKeyLen = 255
	replayedHeader       = "Idempotent-Replayed"
)

// storedResponse is what a completed request leaves behind for its retries.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body"`
}

// IdempotencyStore keeps responses to keyed POST requests in Redis so a
// retried request gets the first response back instead of running twice.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore returns nil when client is nil; the middleware treats a
// nil store as disabled.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

func idempotencyKey(userID, method, path, key string) string {
	return strings.Join([]string{idempotencyKeyPrefix, userID, method, path, key}, ":")
}

// reserve marks key as in flight. When the key already exists the stored
// response is returned, or nil while the first request is still running.
func (s *IdempotencyStore) reserve(ctx context.Context, key string) (bool, *storedResponse, error) {
	ok, err := s.client.SetNX(ctx, key, idempotencyPending, s.ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if ok {
		return true, nil, nil
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; let the caller retry.
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	if string(raw) == idempotencyPending {
		return false, nil, nil
	}
	var rec storedResponse
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		return false, nil, err
	}
	return false, &rec, nil
}

func (s *IdempotencyStore) complete(ctx context.Context, key string, rec storedResponse) error {
	data, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *IdempotencyStore) release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

// Idempotency replays stored responses for POST requests carrying an
// Idempotency-Key header. It must run after RequireUser. Redis failures
// disable replay for that request rather than failing it.
func Idempotency(store *IdempotencyStore, logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			raw := strings.TrimSpace(req.Header.Get(idempotencyHeader))
			if store == nil || req.Method != http.MethodPost || raw == "" {
				return next(c)
			}
			if len(raw) > maxIdempotencyKeyLen {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "Idempotency-Key is too long"})
			}

			m := metricsFrom(c)
			ctx := req.Context()
			key := idempotencyKey(userIDFrom(c), req.Method, req.URL.Path, raw)
			reserved, rec, err := store.reserve(ctx, key)
			if err != nil {
				if logger != nil {
					logger.WithError(err).WithField("path", req.URL.Path).Warn("idempotency lookup failed")
				}
				return next(c)
			}
			if !reserved {
				if rec == nil {
					if m != nil {
						m.SetIdempotency("in_flight")
					}
					return c.JSON(http.StatusConflict, errorResponse{Error: "A request with this Idempotency-Key is in progress"})
				}
				if m != nil {
					m.SetIdempotency("replayed")
				}
				c.Response().Header().Set(replayedHeader, "true")
				if rec.ContentType != "" {
					return c.Blob(rec.Status, rec.ContentType, rec.Body)
				}
				return c.NoContent(rec.Status)
			}

			res := c.Response()
			cw := &captureWriter{ResponseWriter: res.Writer}
			res.Writer = cw
			err = next(c)
			res.Writer = cw.ResponseWriter

			// Completing must survive a request context that timed out.
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err != nil || !res.Committed || res.Status >= http.StatusInternalServerError {
				if rerr := store.release(bg, key); rerr != nil && logger != nil {
					logger.WithError(rerr).Warn("idempotency release failed")
				}
				return err
			}
			stored := storedResponse{
				Status:      res.Status,
				ContentType: res.Header().Get(echo.HeaderContentType),
				Body:        cw.buf.Bytes(),
			}
			if cerr := store.complete(bg, key, stored); cerr != nil {
				if logger != nil {
					logger.WithError(cerr).Warn("idempotency store failed")
				}
				_ = store.release(bg, key)
			} else if m != nil {
				m.SetIdempotency("stored")
			}
			return nil
		}
	}
}

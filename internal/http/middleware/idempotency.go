// README: Idempotency-Key replay; the first non-5xx response per (caller, route, key) is cached and replayed.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const IdempotencyHeader = "Idempotency-Key"

// ResponseStore is a TTL-bounded store; infra.ResponseCache implements it on Redis.
type ResponseStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, val []byte) error
}

type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Idempotency must run after Auth. Requests without the header pass through; a store outage degrades to
// pass-through since every engine operation is already safe to retry.
func Idempotency(store ResponseStore, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyHeader)
		if key == "" || store == nil || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		cacheKey := CallerUID(c) + ":" + c.Request.Method + ":" + c.Request.URL.Path + ":" + key

		ctx := c.Request.Context()
		if raw, ok, err := store.Get(ctx, cacheKey); err != nil {
			log.Warn("idempotency lookup failed", zap.Error(err))
		} else if ok {
			var cached cachedResponse
			if err := json.Unmarshal(raw, &cached); err == nil {
				c.Header("Idempotent-Replayed", "true")
				c.Data(cached.Status, "application/json; charset=utf-8", cached.Body)
				c.Abort()
				return
			}
		}

		rw := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = rw
		c.Next()

		status := rw.Status()
		if status >= http.StatusInternalServerError || rw.body.Len() == 0 {
			return
		}
		raw, err := json.Marshal(cachedResponse{Status: status, Body: rw.body.Bytes()})
		if err != nil {
			return
		}
		if err := store.Put(ctx, cacheKey, raw); err != nil {
			log.Warn("idempotency store failed", zap.Error(err))
		}
	}
}

package idempotency

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"seller-gateway/internal/auth"
	"seller-gateway/internal/cache"
	"seller-gateway/internal/errors"
)

const (
	HeaderKey = "Idempotency-Key"
	HeaderHit = "X-Idempotency-Hit"

	maxKeyLength = 255
	saveTimeout  = 5 * time.Second
)

type IdempotencyStore interface {
	Lock(ctx context.Context, key string) (bool, error)
	GetResponse(ctx context.Context, key string) (*IdempotencyResponse, bool, error)
	SaveResponse(ctx context.Context, key string, resp IdempotencyResponse) error
	Release(ctx context.Context, key string) error
}

// IdempotencyResponse is a recorded response, replayed verbatim.
type IdempotencyResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// replayedHeaders are the only headers stored with a response. The rest are
// per-connection or set again by other middleware.
var replayedHeaders = []string{"Content-Type", "Location"}

type retryableKey struct{}

// MarkRetryable tells the Idempotency middleware not to record the response
// of this request. Handlers call it when the operation reported a failure in
// a 2xx body, so the seller can retry with the same key. Outside the
// middleware it does nothing.
func MarkRetryable(ctx context.Context) {
	if flag, ok := ctx.Value(retryableKey{}).(*atomic.Bool); ok {
		flag.Store(true)
	}
}

// Idempotency makes a handler run at most once per Idempotency-Key, seller and
// route. Requests without the header pass straight through. Responses with a
// 5xx or 429 status, or marked retryable, are not recorded so the seller can
// retry.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := r.Header.Get(HeaderKey)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(header) > maxKeyLength {
				errors.RespondError(w, r, errors.New(errors.ErrInvalidInput, "Idempotency-Key is too long", nil))
				return
			}
			key := scopedKey(r, header)

			acquired, err := store.Lock(ctx, key)
			if err != nil {
				errors.RespondError(w, r, errors.New(errors.ErrInternal, "Idempotency Service Unavailable", err))
				return
			}
			if !acquired {
				replayOrConflict(w, r, store, key)
				return
			}

			retryable := new(atomic.Bool)
			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(ctx, retryableKey{}, retryable)))

			saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
			defer cancel()

			if retryable.Load() || rec.statusCode >= http.StatusInternalServerError || rec.statusCode == http.StatusTooManyRequests {
				slog.WarnContext(ctx, "Releasing idempotency key after failed request", "key", key, "status", rec.statusCode)
				if err := store.Release(saveCtx, key); err != nil {
					slog.ErrorContext(ctx, "Failed to release idempotency key", "key", key, "error", err)
				}
				return
			}
			if err := store.SaveResponse(saveCtx, key, rec.recorded()); err != nil {
				slog.ErrorContext(ctx, "Failed to save idempotency response", "key", key, "error", err)
			}
		})
	}
}

func replayOrConflict(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key string) {
	saved, found, err := store.GetResponse(r.Context(), key)
	if err != nil {
		errors.RespondError(w, r, errors.New(errors.ErrInternal, "Internal Cache Error", err))
		return
	}
	if !found || saved == nil {
		// Locked but nothing recorded yet: the first request is still running.
		w.Header().Set("Retry-After", "1")
		errors.RespondError(w, r, errors.New(errors.ErrConflict, "Request is currently being processed", nil))
		return
	}

	for k, values := range saved.Headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderHit, "true")
	w.WriteHeader(saved.StatusCode)
	w.Write(saved.Body)
}

// scopedKey keeps one seller's key from replaying another seller's response,
// and the same key on save-draft and submit from colliding.
func scopedKey(r *http.Request, header string) string {
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		userID = "anonymous"
	}
	return cache.Key("idempotency", userID, r.Method, r.URL.Path, header)
}

// responseRecorder tees the response into a buffer while it is written.
type responseRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseRecorder) recorded() IdempotencyResponse {
	headers := make(map[string][]string)
	for _, name := range replayedHeaders {
		if v := r.Header().Values(name); len(v) > 0 {
			headers[name] = v
		}
	}
	return IdempotencyResponse{
		StatusCode: r.statusCode,
		Headers:    headers,
		Body:       bytes.Clone(r.body.Bytes()),
	}
}

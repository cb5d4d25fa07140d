package idempotency

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"github.com/diwise/fleet-ops/internal/pkg/infrastructure/logging"
	"github.com/go-chi/chi/v5/middleware"
)

const HeaderName string = "Idempotency-Key"

// Middleware replays the first response for requests that carry an Idempotency-Key
// header. Responses with a server error status are not stored so the request can be
// retried, and neither are requests whose handler panics. A nil store disables the
// middleware.
func Middleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderName)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			log := logging.GetFromContext(ctx)
			storeKey := fmt.Sprintf("idempotency:%s:%s:%s", r.Method, r.URL.Path, key)

			stored, err := store.Begin(ctx, storeKey)
			if errors.Is(err, ErrInFlight) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			if err != nil {
				log.Error().Err(err).Msg("idempotency store unavailable, handling request anyway")
				next.ServeHTTP(w, r)
				return
			}

			if stored != nil {
				if stored.ContentType != "" {
					w.Header().Set("Content-Type", stored.ContentType)
				}
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(stored.Status)
				w.Write(stored.Body)
				return
			}

			// the key is released unless the response was stored, also when next panics
			completed := false
			defer func() {
				if completed {
					return
				}
				if err := store.Release(ctx, storeKey); err != nil {
					log.Error().Err(err).Msg("could not release idempotency key")
				}
			}()

			body := &bytes.Buffer{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(body)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			if status >= http.StatusInternalServerError {
				return
			}

			err = store.Complete(ctx, storeKey, Response{
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        body.Bytes(),
			})
			if err != nil {
				log.Error().Err(err).Msg("could not store response for idempotency key")
				return
			}

			completed = true
		})
	}
}

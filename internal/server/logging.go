package server

import (
	"log/slog"
	"net/http"
	"time"
)

type responseMeta struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *responseMeta) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseMeta) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseMeta) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// requestLogger logs one line per request. Probe paths are skipped so health
// checks don't drown the log.
func requestLogger(skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			meta := &responseMeta{ResponseWriter: w, statusCode: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(meta, r)

			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", meta.statusCode,
				"bytes", meta.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

// Package server exposes the live session to the presentation layer over HTTP.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Streams are the optional push endpoints mounted next to the REST routes.
type Streams struct {
	SSE http.HandlerFunc
	WS  http.HandlerFunc
}

func NewRouter(server *Server, reload *ReloadManager, streams Streams, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Group(func(api chi.Router) {
		api.Use(middleware.Compress(5))

		api.Get("/api/health", server.GetHealth)
		api.Get("/api/view", server.GetView)
		api.Get("/api/session", server.GetSession)
		api.Patch("/api/session", server.PatchSession)
		api.Put("/api/series/{name}", server.PutSeries)
		api.Get("/api/pollers", server.GetPollers)
		api.Post("/api/stream/start", server.StartStream)
		api.Post("/api/stream/stop", server.StopStream)
		api.Post("/api/compute", server.Compute)
		api.Get("/api/expiries/reload", reload.GetStatus)
		api.Post("/api/expiries/reload", reload.TriggerReload)
	})

	// Streaming routes bypass compression.
	if streams.SSE != nil {
		r.Get("/api/events", streams.SSE)
	}
	if streams.WS != nil {
		r.Get("/ws", streams.WS)
	}

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

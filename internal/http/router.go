package httpserver

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mfreitas/musicgen-back/internal/http/handlers"
	"github.com/mfreitas/musicgen-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	MetricsHandler http.Handler
	Logger         zerolog.Logger
	CORSOrigins    []string
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", deps.API.Health)
	mux.HandleFunc("/api/generate", deps.API.Generate)
	mux.HandleFunc("/api/jobs/", deps.API.JobByID)
	mux.HandleFunc("/api/audio/", deps.API.Audio)
	if deps.MetricsHandler != nil {
		mux.Handle("/metrics", deps.MetricsHandler)
	}

	handler := http.Handler(mux)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Logging(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

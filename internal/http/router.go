package httpserver

import (
	"log"
	"net/http"

	"github.com/answerdesk/answerdesk-back/internal/http/handlers"
	"github.com/answerdesk/answerdesk-back/internal/http/middleware"
	"github.com/answerdesk/answerdesk-back/internal/telemetry"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.Handle("/metrics", telemetry.Handler())
	mux.HandleFunc("/v1/jobs", deps.API.Jobs)
	mux.HandleFunc("/v1/jobs/", deps.API.JobByID)
	mux.HandleFunc("/v1/skills", deps.API.Skills)
	mux.HandleFunc("/v1/skills/match", deps.API.MatchSkills)
	mux.HandleFunc("/v1/skills/estimate", deps.API.Estimate)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

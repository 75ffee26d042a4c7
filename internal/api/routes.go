package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(handler *Handler) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/api/video/health", handler.HealthCheck)

	// Processing pipeline
	mux.HandleFunc("/api/video/process", handler.StartProcessing)
	mux.HandleFunc("/api/video/progress/", handler.GetProgress)
	mux.HandleFunc("/api/video/cancel/", handler.CancelJob)

	// Single-frame operations
	mux.HandleFunc("/api/video/scrub", handler.Scrub)
	mux.HandleFunc("/api/video/scrub/save", handler.SaveScrub)
	mux.HandleFunc("/api/video/scrub/revert", handler.RevertScrub)
	mux.HandleFunc("/api/video/navigate", handler.Navigate)
	mux.HandleFunc("/api/video/keyframes/add", handler.AddKeyframe)
	mux.HandleFunc("/api/video/keyframes/clone", handler.CloneFrame)

	// Session management
	mux.HandleFunc("/api/video/session/", handler.DeleteSession)

	// Admin/debugging surface
	mux.HandleFunc("/api/video/jobs/stats", handler.JobStats)
	mux.Handle("/metrics", promhttp.Handler())

	// Serve stored frames
	mux.HandleFunc("/frames/", handler.ServeFrame)

	// Apply middleware
	wrapped := LoggingMiddleware(mux)
	wrapped = RecoveryMiddleware(wrapped)
	wrapped = CORSMiddleware(wrapped)

	return wrapped
}

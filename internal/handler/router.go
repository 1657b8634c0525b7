package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bujji-ai/vision-assistant/internal/config"
	"github.com/bujji-ai/vision-assistant/internal/handler/assist"
	"github.com/bujji-ai/vision-assistant/internal/handler/realtime"
	"github.com/bujji-ai/vision-assistant/internal/handler/speech"
	middlewarePkg "github.com/bujji-ai/vision-assistant/internal/middleware"
	"github.com/bujji-ai/vision-assistant/internal/service/assistant"
	realtimeService "github.com/bujji-ai/vision-assistant/internal/service/realtime"
	sessionService "github.com/bujji-ai/vision-assistant/internal/service/session"
	"github.com/bujji-ai/vision-assistant/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(assistantSvc *assistant.Service, transcriber speech.Transcriber, registry *realtimeService.Registry, sessionSvc *sessionService.Service, corsCfg config.CORSConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(corsCfg.Origins))

	// Set before Route so the /api subrouter inherits them
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Create handlers
	assistHandler := assist.New(assistantSvc)
	speechHandler := speech.New(transcriber)
	realtimeHandler := realtime.New(registry, sessionSvc)

	r.Route("/api", func(api chi.Router) {
		api.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{
				"message": "Bujji AI Vision Assistant API",
			})
		})

		// Reports which AI capabilities are currently wired up
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]interface{}{
				"status":        "healthy",
				"vision_loaded": assistantSvc.VisionEnabled(),
				"speech_loaded": transcriber != nil,
				"timestamp":     time.Now().UTC().Format(time.RFC3339),
			})
		})

		assistHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
	})

	// Realtime channel lives outside the /api prefix
	realtimeHandler.RegisterRoutes(r)

	return r
}

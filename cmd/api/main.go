package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/bujji-ai/vision-assistant/internal/config"
	"github.com/bujji-ai/vision-assistant/internal/handler"
	speechhandler "github.com/bujji-ai/vision-assistant/internal/handler/speech"
	"github.com/bujji-ai/vision-assistant/internal/logging"
	"github.com/bujji-ai/vision-assistant/internal/service/ai"
	"github.com/bujji-ai/vision-assistant/internal/service/assistant"
	realtimesvc "github.com/bujji-ai/vision-assistant/internal/service/realtime"
	sessionservice "github.com/bujji-ai/vision-assistant/internal/service/session"
	speechservice "github.com/bujji-ai/vision-assistant/internal/service/speech"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Init()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("failed to load .env file, continuing with system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Session state and the realtime channel registry share a lifecycle:
	// tearing down a client's connection clears its conversational context.
	sessionSvc := sessionservice.NewService()
	registry := realtimesvc.NewRegistry(func(clientID string) {
		sessionSvc.Clear(context.Background(), clientID)
	})

	// Initialize AI service
	var aiSvc *ai.Service
	if cfg.AI.Enabled() {
		aiSvc, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, continuing without vision and Q&A - 请检查 Ark 模型相关环境变量")
			aiSvc = nil
		} else {
			log.Info().Str("model", cfg.AI.Model).Msg("AI service initialized")
		}
	} else {
		log.Info().Msg("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	var describer assistant.VisionDescriber
	var answerer assistant.QuestionAnswerer
	if aiSvc != nil {
		describer = aiSvc
		answerer = aiSvc
	}
	assistantSvc := assistant.NewService(sessionSvc, describer, answerer, time.Duration(cfg.AI.Timeout)*time.Second)

	// Initialize speech service
	var transcriber speechhandler.Transcriber
	if cfg.Speech.Enabled {
		transcriber = speechservice.NewService(cfg.Speech)
		log.Info().Str("base_url", cfg.Speech.BaseURL).Msg("speech service initialized")
	} else {
		log.Info().Msg("语音服务未配置，跳过转写功能初始化")
	}

	router := handler.NewRouter(assistantSvc, transcriber, registry, sessionSvc, cfg.CORS)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", serverCfg.Addr).Msg("vision assistant backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

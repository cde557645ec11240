package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/wardline/voice-orchestrator/internal/callflow"
	"github.com/wardline/voice-orchestrator/internal/config"
	"github.com/wardline/voice-orchestrator/internal/coreapi"
	"github.com/wardline/voice-orchestrator/internal/emergency"
	"github.com/wardline/voice-orchestrator/internal/llm"
	"github.com/wardline/voice-orchestrator/internal/logging"
	"github.com/wardline/voice-orchestrator/internal/media"
	"github.com/wardline/voice-orchestrator/internal/session"
	"github.com/wardline/voice-orchestrator/internal/speech"
	"github.com/wardline/voice-orchestrator/internal/telephony"
)

func main() {
	// absence of a .env file is the normal production case
	_ = godotenv.Load()
	sugar := logging.Init()
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalw("failed to load configuration", "err", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := session.NewRegistry()
	registry.StartSweeper(ctx, cfg.SweepInterval, cfg.SessionMaxAge)

	core := coreapi.NewClient(cfg.CoreAPIBaseURL)

	chatClient := llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)
	factory := &callflow.Factory{
		Detector: emergency.NewDetector(),
		Intents:  llm.NewIntentService(chatClient),
		Dialogue: llm.NewDialogueService(chatClient),
		OnEscalate: func(snap session.Snapshot) {
			hctx, hcancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer hcancel()
			tag := "escalation"
			if snap.IsEmergency {
				tag = "emergency"
			}
			history := make([]coreapi.Turn, 0, len(snap.History))
			for _, msg := range snap.History {
				history = append(history, coreapi.Turn{Role: string(msg.Role), Text: msg.Text})
			}
			if err := core.CreateHandoff(hctx, coreapi.Handoff{
				CallID:     snap.CallID,
				HospitalID: snap.HospitalID,
				IntentKey:  snap.DetectedIntent,
				Tag:        tag,
				Summary:    summarize(snap),
				Fields:     snap.ExtractedFields,
				History:    history,
			}); err != nil {
				logging.Warnw("handoff creation failed",
					append(logging.CallFields(snap.CallID), "err", err.Error())...)
			}
		},
	}

	synth := speech.NewSynthesizer(cfg.TTSURL, cfg.ProviderAuthToken, cfg.TTSTimeout)
	newRecognizer := func(streamID, callID string) media.Recognizer {
		return speech.NewRecognizer(cfg.Recognizer, cfg.STTURL, cfg.ProviderAuthToken, cfg.STTTimeout, streamID, callID)
	}
	mediaMgr := media.NewManager(ctx, registry, factory, newRecognizer, synth, llm.FallbackEscalation)

	webhooks := telephony.NewHandler(cfg, registry, factory, core)

	router := chi.NewRouter()
	router.Mount("/", webhooks.Routes())
	router.Get("/media/{callSid}", mediaMgr.HandleConnection)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("voice orchestrator listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("http server failed", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	sugar.Infow("shutdown signal received, closing resources")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("http shutdown incomplete", "err", err)
	}
	mediaMgr.Close()
	cancel()
	sugar.Infow("shutdown complete")
}

// summarize builds a one-line handoff summary from the call so far.
func summarize(snap session.Snapshot) string {
	if snap.IsEmergency {
		return "Emergency language detected during automated handling."
	}
	if snap.DetectedIntent != "" {
		return "Caller needs help with: " + snap.DetectedIntent
	}
	return "Caller requested assistance."
}

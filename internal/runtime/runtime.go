package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/loqalabs/loqa-voice/internal/audio"
	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/conversation"
	"github.com/loqalabs/loqa-voice/internal/eventstore"
	"github.com/loqalabs/loqa-voice/internal/llm"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/stt"
	"github.com/loqalabs/loqa-voice/internal/tools"
	"github.com/loqalabs/loqa-voice/internal/tts"
	"github.com/loqalabs/loqa-voice/internal/turn"
	"github.com/loqalabs/loqa-voice/internal/wake"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	sessionID   string
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	mic     audio.Microphone
	player  tts.Player
	closers []func()
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithAudio replaces the PortAudio devices, which also skips PortAudio initialization.
func WithAudio(mic audio.Microphone, player tts.Player) Option {
	return func(r *Runtime) {
		r.mic = mic
		r.player = player
	}
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:       cfg,
		logger:    logger,
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start builds the voice pipeline, serves health and metrics endpoints, and runs the turn loop
// until ctx ends.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer r.close()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	orch, err := r.build(ctx)
	if err != nil {
		r.shutdownTelemetry()
		return err
	}

	if r.cfg.HTTP.Enabled {
		r.serveHTTP(metricsHandler)
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("session_id", r.sessionID))

	runErr := orch.Run(ctx)
	r.ready.Store(false)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	r.shutdownTelemetry()

	return runErr
}

func (r *Runtime) build(ctx context.Context) (*turn.Orchestrator, error) {
	cfg := r.cfg

	busClient, err := r.connectBus(ctx)
	if err != nil {
		return nil, err
	}

	journal, err := eventstore.Open(ctx, cfg.EventStore, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	r.closers = append(r.closers, func() { _ = journal.Close() })
	if err := journal.StartSession(ctx, r.sessionID, cfg.RuntimeName); err != nil {
		r.logger.Warn("journal session not recorded", slog.String("error", err.Error()))
	}

	if err := r.openAudio(); err != nil {
		return nil, err
	}

	recognizer, err := stt.FromConfig(ctx, cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("create recognizer: %w", err)
	}

	registry := tools.NewRegistry()
	if cfg.Tools.Enabled {
		if registry, err = tools.FromConfig(ctx, cfg.Tools, r.logger); err != nil {
			return nil, fmt.Errorf("register tools: %w", err)
		}
		r.closers = append(r.closers, func() { _ = registry.Close(context.Background()) })
	}
	executor := tools.NewExecutor(registry, time.Duration(cfg.Tools.TimeoutMS)*time.Millisecond, r.logger)

	backend, err := llm.FromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm backend: %w", err)
	}
	system, err := cfg.LLM.LoadSystemPrompt()
	if err != nil {
		return nil, err
	}
	generator := llm.NewGenerator(backend, executor, llm.OptionsFromConfig(cfg.LLM, system), r.logger)

	synth, err := tts.FromConfig(ctx, cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create synthesizer: %w", err)
	}
	bridge := tts.NewBridge(synth, r.player, tts.SessionConfigFromConfig(cfg.TTS), cfg.TTS.Heartbeat(), r.logger)

	detector, err := wake.FromConfig(cfg.Wake, r.logger)
	if err != nil {
		return nil, fmt.Errorf("create wake detector: %w", err)
	}

	metrics, err := turn.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("create turn metrics: %w", err)
	}

	recorder := audio.NewRecorder(r.mic, audio.RecorderConfig{
		Sensitivity:      cfg.Audio.Sensitivity,
		Threshold:        cfg.Audio.Threshold,
		NotSpokenTimeout: cfg.Audio.NotSpokenTimeout(),
		FinishedTimeout:  cfg.Audio.FinishedTimeout(),
		QueueSize:        cfg.Audio.QueueSize,
	}, r.logger)

	deps := turn.Deps{
		Wake:         detector,
		Recorder:     recorder,
		Recognizer:   recognizer,
		Generator:    generator,
		Speaker:      bridge,
		Validator:    turn.NewValidator(cfg.Validation),
		Conversation: conversation.NewContext(cfg.LLM.ContextLimit),
		Executor:     executor,
		Journal:      journal,
		Metrics:      metrics,
		SessionID:    r.sessionID,
	}
	if busClient != nil {
		deps.Bus = busClient
	}
	if cfg.LLM.Echo {
		deps.Echo = os.Stdout
	}

	r.logger.Info("voice pipeline ready",
		slog.String("stt", cfg.STT.Mode),
		slog.String("llm", cfg.LLM.Mode),
		slog.String("tts", cfg.TTS.Mode),
		slog.String("wake", cfg.Wake.Mode),
		slog.Int("tools", registry.Len()))
	return turn.New(deps, r.logger), nil
}

func (r *Runtime) connectBus(ctx context.Context) (*bus.Client, error) {
	if !r.cfg.Bus.Enabled {
		return nil, nil
	}
	busCfg := r.cfg.Bus
	embedded, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	if embedded != nil {
		r.closers = append(r.closers, embedded.Shutdown)
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, client.Close)
	return client, nil
}

// openAudio initializes PortAudio unless devices were injected. Device failures are fatal.
func (r *Runtime) openAudio() error {
	if r.mic != nil && r.player != nil {
		return nil
	}
	terminate, err := audio.Initialize()
	if err != nil {
		return err
	}
	r.closers = append(r.closers, terminate)

	if err := audio.CheckInput(); err != nil {
		return err
	}
	rate := r.cfg.Audio.SampleRate
	if r.cfg.Audio.DetectSampleRate {
		rate = audio.DetectSampleRate(rate, r.logger)
	}
	r.mic = audio.NewPortAudioInput(rate, r.cfg.Audio.Channels, r.cfg.Audio.FramesPerBuffer)

	speaker, err := audio.NewSpeaker(r.cfg.Audio.OutputSampleRate, r.cfg.TTS.Channels, r.cfg.Audio.OutputBufferFrames)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, func() { _ = speaker.Close() })
	r.player = speaker
	return nil
}

func (r *Runtime) serveHTTP(metrics http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("http server listening", slog.String("addr", addr))
}

func (r *Runtime) shutdownTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	r.tracerClose = nil
}

// close releases resources in reverse order of acquisition.
func (r *Runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

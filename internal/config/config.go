package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	TracesEnabled  bool   `yaml:"traces_enabled"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bind    string `yaml:"bind"`
	Port    int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	EnvFile     string           `yaml:"env_file"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Audio       AudioConfig      `yaml:"audio"`
	Wake        WakeConfig       `yaml:"wake"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Tools       ToolsConfig      `yaml:"tools"`
	Validation  ValidationConfig `yaml:"validation"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// AudioConfig tunes microphone capture and the loudness gate.
type AudioConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	DetectSampleRate   bool    `yaml:"detect_sample_rate"`
	Channels           int     `yaml:"channels"`
	FramesPerBuffer    int     `yaml:"frames_per_buffer"`
	QueueSize          int     `yaml:"queue_size"`
	Sensitivity        float64 `yaml:"sensitivity"`
	Threshold          int     `yaml:"threshold"`
	NotSpokenTimeoutMS int     `yaml:"not_spoken_timeout_ms"`
	FinishedTimeoutMS  int     `yaml:"finished_timeout_ms"`
	OutputSampleRate   int     `yaml:"output_sample_rate"`
	OutputBufferFrames int     `yaml:"output_buffer_frames"`
}

func (a AudioConfig) NotSpokenTimeout() time.Duration {
	return time.Duration(a.NotSpokenTimeoutMS) * time.Millisecond
}

func (a AudioConfig) FinishedTimeout() time.Duration {
	return time.Duration(a.FinishedTimeoutMS) * time.Millisecond
}

type WakeConfig struct {
	Mode    string `yaml:"mode"` // none, enter, exec
	Command string `yaml:"command"`
}

type STTConfig struct {
	Mode      string `yaml:"mode"` // openai, google, exec, mock
	Endpoint  string `yaml:"endpoint"`
	APIKeyEnv string `yaml:"api_key_env"`
	Model     string `yaml:"model"`
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	TempPath  string `yaml:"temp_path"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LLMConfig struct {
	Mode                string  `yaml:"mode"` // openai, gemini, mock
	Endpoint            string  `yaml:"endpoint"`
	APIKeyEnv           string  `yaml:"api_key_env"`
	Model               string  `yaml:"model"`
	SystemPrompt        string  `yaml:"system_prompt"`
	SystemPromptFile    string  `yaml:"system_prompt_file"`
	MaxTokens           int     `yaml:"max_tokens"`
	TopP                float64 `yaml:"top_p"`
	Temperature         float64 `yaml:"temperature"`
	ToolTemperature     float64 `yaml:"tool_temperature"`
	ToolTemperatureStep float64 `yaml:"tool_temperature_step"`
	ToolTemperatureMin  float64 `yaml:"tool_temperature_min"`
	ToolAttempts        int     `yaml:"tool_attempts"`
	ContextLimit        int     `yaml:"context_limit"`
	Echo                bool    `yaml:"echo"`
}

type TTSConfig struct {
	Mode         string  `yaml:"mode"` // elevenlabs, google, exec, mock
	Endpoint     string  `yaml:"endpoint"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Command      string  `yaml:"command"`
	Voice        string  `yaml:"voice"`
	Language     string  `yaml:"language"`
	Model        string  `yaml:"model"`
	SampleRate   int     `yaml:"sample_rate"`
	Channels     int     `yaml:"channels"`
	SpeakingRate float64 `yaml:"speaking_rate"`
	Stability    float64 `yaml:"stability"`
	Similarity   float64 `yaml:"similarity"`
	HeartbeatMS  int     `yaml:"heartbeat_ms"`
}

func (t TTSConfig) Heartbeat() time.Duration {
	return time.Duration(t.HeartbeatMS) * time.Millisecond
}

type ToolsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Builtins        []string `yaml:"builtins"`
	Directory       string   `yaml:"directory"`
	TimeoutMS       int      `yaml:"timeout_ms"`
	WeatherEndpoint string   `yaml:"weather_endpoint"`
	GeoEndpoint     string   `yaml:"geo_endpoint"`
	WeatherCacheSec int      `yaml:"weather_cache_sec"`
	TemperatureUnit string   `yaml:"temperature_unit"`
}

// ValidationConfig holds the transcript heuristics applied before a turn proceeds.
type ValidationConfig struct {
	FalsePositives  []string `yaml:"false_positives"`
	AllowedOneWords []string `yaml:"allowed_one_words"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voice",
		Environment: "development",
		EnvFile:     ".env",
		HTTP: HTTPConfig{
			Enabled: true,
			Bind:    "127.0.0.1",
			Port:    8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-voice.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
		},
		Audio: AudioConfig{
			SampleRate:         44100,
			DetectSampleRate:   true,
			Channels:           1,
			FramesPerBuffer:    1024,
			QueueSize:          256,
			Sensitivity:        15,
			Threshold:          5,
			NotSpokenTimeoutMS: 5000,
			FinishedTimeoutMS:  1500,
			OutputSampleRate:   24000,
			OutputBufferFrames: 1024,
		},
		Wake: WakeConfig{
			Mode: "none",
		},
		STT: STTConfig{
			Mode:      "openai",
			Endpoint:  "https://api.groq.com/openai/v1",
			APIKeyEnv: "GROQ_API_KEY",
			Model:     "whisper-large-v3-turbo",
			Language:  "en-US",
			TempPath:  "temp_recording.wav",
			TimeoutMS: 45000,
		},
		LLM: LLMConfig{
			Mode:                "openai",
			Endpoint:            "https://api.groq.com/openai/v1",
			APIKeyEnv:           "GROQ_API_KEY",
			Model:               "moonshotai/kimi-k2-instruct-0905",
			SystemPrompt:        "You are a helpful voice assistant. Keep answers short and conversational; they will be spoken aloud.",
			MaxTokens:           4096,
			TopP:                1,
			Temperature:         0.6,
			ToolTemperature:     1.0,
			ToolTemperatureStep: 0.2,
			ToolTemperatureMin:  0.2,
			ToolAttempts:        4,
			ContextLimit:        15,
			Echo:                true,
		},
		TTS: TTSConfig{
			Mode:         "google",
			APIKeyEnv:    "ELEVENLABS_API_KEY",
			Voice:        "en-US-Chirp3-HD-Puck",
			Language:     "en-US",
			Model:        "eleven_flash_v2_5",
			SampleRate:   24000,
			Channels:     1,
			SpeakingRate: 2,
			Stability:    0.5,
			Similarity:   0.75,
			HeartbeatMS:  3000,
		},
		Tools: ToolsConfig{
			Enabled:         true,
			Builtins:        []string{"calculate", "get_datetime", "get_clipboard", "get_weather_now", "get_weather_today", "get_forecast"},
			TimeoutMS:       15000,
			WeatherEndpoint: "https://api.open-meteo.com/v1/forecast",
			GeoEndpoint:     "https://ipinfo.io/json",
			WeatherCacheSec: 3600,
			TemperatureUnit: "fahrenheit",
		},
		Validation: ValidationConfig{
			FalsePositives: []string{"thankyou"},
			AllowedOneWords: []string{
				"yes", "no", "what", "sure", "yeah", "nah", "ok", "okay", "alright", "maybe",
				"great", "fine", "hi", "hello", "time", "clock", "whattup", "yo", "why", "test", "same",
			},
		},
	}
}

// Load reads the YAML file at path on top of Default, loads the optional .env file and
// applies LOQA_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadEnvFile populates unset variables from a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// LoadSystemPrompt returns the configured system prompt, preferring the prompt file.
func (c LLMConfig) LoadSystemPrompt() (string, error) {
	if c.SystemPromptFile == "" {
		return c.SystemPrompt, nil
	}
	data, err := os.ReadFile(c.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// APIKey resolves a secret from the environment variable named by envKey.
func APIKey(envKey string) string {
	if envKey == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envKey))
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideBool(&cfg.HTTP.Enabled, "LOQA_HTTP_ENABLED")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TracesEnabled, "LOQA_TELEMETRY_TRACES_ENABLED")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Audio.SampleRate, "LOQA_AUDIO_SAMPLE_RATE")
	overrideBool(&cfg.Audio.DetectSampleRate, "LOQA_AUDIO_DETECT_SAMPLE_RATE")
	overrideInt(&cfg.Audio.Channels, "LOQA_AUDIO_CHANNELS")
	overrideFloat(&cfg.Audio.Sensitivity, "LOQA_AUDIO_SENSITIVITY")
	overrideInt(&cfg.Audio.Threshold, "LOQA_AUDIO_THRESHOLD")
	overrideInt(&cfg.Audio.NotSpokenTimeoutMS, "LOQA_AUDIO_NOT_SPOKEN_TIMEOUT_MS")
	overrideInt(&cfg.Audio.FinishedTimeoutMS, "LOQA_AUDIO_FINISHED_TIMEOUT_MS")
	overrideString(&cfg.Wake.Mode, "LOQA_WAKE_MODE")
	overrideString(&cfg.Wake.Command, "LOQA_WAKE_COMMAND")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Endpoint, "LOQA_STT_ENDPOINT")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideString(&cfg.STT.TempPath, "LOQA_STT_TEMP_PATH")
	overrideString(&cfg.LLM.Mode, "LOQA_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LOQA_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKeyEnv, "LOQA_LLM_API_KEY_ENV")
	overrideString(&cfg.LLM.Model, "LOQA_LLM_MODEL")
	overrideString(&cfg.LLM.SystemPromptFile, "LOQA_LLM_SYSTEM_PROMPT_FILE")
	overrideInt(&cfg.LLM.MaxTokens, "LOQA_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LOQA_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.ToolAttempts, "LOQA_LLM_TOOL_ATTEMPTS")
	overrideBool(&cfg.LLM.Echo, "LOQA_LLM_ECHO")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideFloat(&cfg.TTS.SpeakingRate, "LOQA_TTS_SPEAKING_RATE")
	overrideInt(&cfg.TTS.HeartbeatMS, "LOQA_TTS_HEARTBEAT_MS")
	overrideBool(&cfg.Tools.Enabled, "LOQA_TOOLS_ENABLED")
	overrideStringSlice(&cfg.Tools.Builtins, "LOQA_TOOLS_BUILTINS")
	overrideString(&cfg.Tools.Directory, "LOQA_TOOLS_DIRECTORY")
	overrideString(&cfg.Tools.TemperatureUnit, "LOQA_TOOLS_TEMPERATURE_UNIT")
	overrideStringSlice(&cfg.Validation.AllowedOneWords, "LOQA_VALIDATION_ALLOWED_ONE_WORDS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Enabled && (cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535) {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Audio.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be positive")
	}
	if cfg.Audio.Channels <= 0 {
		return errors.New("audio.channels must be positive")
	}
	if cfg.Audio.FramesPerBuffer <= 0 {
		return errors.New("audio.frames_per_buffer must be positive")
	}
	if cfg.Audio.QueueSize <= 0 {
		return errors.New("audio.queue_size must be positive")
	}
	if cfg.Audio.Sensitivity <= 0 {
		return errors.New("audio.sensitivity must be positive")
	}
	if cfg.Audio.NotSpokenTimeoutMS <= 0 || cfg.Audio.FinishedTimeoutMS <= 0 {
		return errors.New("audio timeouts must be positive")
	}
	if cfg.Audio.OutputSampleRate <= 0 || cfg.Audio.OutputBufferFrames <= 0 {
		return errors.New("audio output settings must be positive")
	}
	switch cfg.Wake.Mode {
	case "none", "enter":
	case "exec":
		if cfg.Wake.Command == "" {
			return errors.New("wake.command must be set when mode=exec")
		}
	default:
		return errors.New("wake.mode must be one of none|enter|exec")
	}
	switch cfg.STT.Mode {
	case "openai", "google", "mock":
	case "exec":
		if cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
	default:
		return errors.New("stt.mode must be one of openai|google|exec|mock")
	}
	if cfg.STT.TempPath == "" {
		return errors.New("stt.temp_path must not be empty")
	}
	switch cfg.LLM.Mode {
	case "openai", "gemini", "mock":
	default:
		return errors.New("llm.mode must be one of openai|gemini|mock")
	}
	if cfg.LLM.Model == "" && cfg.LLM.Mode != "mock" {
		return errors.New("llm.model must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	if cfg.LLM.ToolAttempts <= 0 {
		return errors.New("llm.tool_attempts must be >= 1")
	}
	if cfg.LLM.ToolTemperatureMin < 0 || cfg.LLM.ToolTemperatureStep < 0 {
		return errors.New("llm tool temperature schedule must be non-negative")
	}
	if cfg.LLM.ContextLimit <= 0 {
		return errors.New("llm.context_limit must be >= 1")
	}
	switch cfg.TTS.Mode {
	case "elevenlabs", "google", "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	default:
		return errors.New("tts.mode must be one of elevenlabs|google|exec|mock")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.HeartbeatMS <= 0 {
		return errors.New("tts.heartbeat_ms must be positive")
	}
	if cfg.Tools.Enabled && cfg.Tools.TimeoutMS <= 0 {
		return errors.New("tools.timeout_ms must be positive")
	}
	return nil
}

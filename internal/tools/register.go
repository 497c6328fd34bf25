package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voice/internal/config"
)

// FromConfig builds a registry with the enabled builtins and any manifest tools found in the
// configured directory.
func FromConfig(ctx context.Context, cfg config.ToolsConfig, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry()
	if !cfg.Enabled {
		return reg, nil
	}

	weather := NewWeather(WeatherConfig{
		ForecastURL: cfg.WeatherEndpoint,
		GeoURL:      cfg.GeoEndpoint,
		Unit:        cfg.TemperatureUnit,
		CacheTTL:    time.Duration(cfg.WeatherCacheSec) * time.Second,
	})
	builtins := map[string]Tool{
		"calculate":     Calculate(),
		"get_datetime":  DateTime(nil),
		"get_clipboard": Clipboard(),
	}
	for _, t := range weather.Tools() {
		builtins[t.Definition().Name] = t
	}

	for _, name := range cfg.Builtins {
		tool, ok := builtins[name]
		if !ok {
			return nil, fmt.Errorf("%w: builtin %s", ErrUnknownTool, name)
		}
		if err := reg.Register(tool); err != nil {
			return nil, err
		}
	}

	if cfg.Directory != "" {
		manifests, err := DiscoverManifests(cfg.Directory)
		if err != nil {
			return nil, err
		}
		for _, m := range manifests {
			tool, err := NewManifestTool(ctx, m)
			if err != nil {
				_ = reg.Close(ctx)
				return nil, fmt.Errorf("tool %s: %w", m.Name, err)
			}
			if err := reg.Register(tool); err != nil {
				if c, ok := tool.(interface{ Close(context.Context) error }); ok {
					_ = c.Close(ctx)
				}
				_ = reg.Close(ctx)
				return nil, err
			}
			runtime := m.Runtime
			if runtime == "" {
				runtime = RuntimeExec
			}
			logger.Info("registered manifest tool", slog.String("tool", m.Name), slog.String("runtime", runtime))
		}
	}
	return reg, nil
}

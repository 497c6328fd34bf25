package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// WeatherConfig configures the Open-Meteo backed weather tools.
type WeatherConfig struct {
	ForecastURL string
	GeoURL      string
	Unit        string
	CacheTTL    time.Duration
	HTTPClient  *http.Client
}

// Weather fetches forecasts for the caller's IP-derived location, caching raw responses.
type Weather struct {
	cfg    WeatherConfig
	client *http.Client
	cache  *expirable.LRU[string, []byte]
	tries  uint
	delay  time.Duration
}

func NewWeather(cfg WeatherConfig) *Weather {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Unit == "" {
		cfg.Unit = "fahrenheit"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Weather{
		cfg:    cfg,
		client: client,
		cache:  expirable.NewLRU[string, []byte](64, nil, cfg.CacheTTL),
		tries:  5,
		delay:  200 * time.Millisecond,
	}
}

// Tools returns get_weather_now, get_weather_today and get_forecast.
func (w *Weather) Tools() []Tool {
	return []Tool{
		NewFunc(Definition{
			Name:        "get_weather_now",
			Description: "Get the current weather conditions at the user's location.",
		}, func(ctx context.Context, _ NoArgs) (string, error) { return w.Now(ctx) }),
		NewFunc(Definition{
			Name:        "get_weather_today",
			Description: "Get today's forecast (high, low, conditions, chance of rain) at the user's location.",
		}, func(ctx context.Context, _ NoArgs) (string, error) { return w.Today(ctx) }),
		NewFunc(Definition{
			Name:        "get_forecast",
			Description: "Get the daily forecast for the next seven days at the user's location.",
		}, func(ctx context.Context, _ NoArgs) (string, error) { return w.Forecast(ctx) }),
	}
}

type location struct {
	City      string
	Region    string
	Latitude  float64
	Longitude float64
}

type ipInfo struct {
	City   string `json:"city"`
	Region string `json:"region"`
	Loc    string `json:"loc"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Apparent    float64 `json:"apparent_temperature"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WeatherCode int     `json:"weather_code"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Daily struct {
		Time          []string  `json:"time"`
		WeatherCode   []int     `json:"weather_code"`
		TempMax       []float64 `json:"temperature_2m_max"`
		TempMin       []float64 `json:"temperature_2m_min"`
		Precipitation []float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
}

func (w *Weather) Now(ctx context.Context) (string, error) {
	loc, err := w.locate(ctx)
	if err != nil {
		return "", err
	}
	resp, err := w.forecast(ctx, loc, url.Values{
		"current": {"temperature_2m,apparent_temperature,relative_humidity_2m,weather_code,wind_speed_10m"},
	})
	if err != nil {
		return "", err
	}
	c := resp.Current
	return fmt.Sprintf("Current weather in %s: %s, %.0f°%s (feels like %.0f°), humidity %.0f%%, wind %.0f mph.",
		loc.label(), describeWeatherCode(c.WeatherCode), c.Temperature, w.unitSymbol(), c.Apparent, c.Humidity, c.WindSpeed), nil
}

func (w *Weather) Today(ctx context.Context) (string, error) {
	loc, err := w.locate(ctx)
	if err != nil {
		return "", err
	}
	resp, err := w.forecast(ctx, loc, w.dailyParams(1))
	if err != nil {
		return "", err
	}
	days := w.formatDays(resp)
	if len(days) == 0 {
		return "", fmt.Errorf("forecast response had no daily data")
	}
	return fmt.Sprintf("Today in %s: %s", loc.label(), days[0]), nil
}

func (w *Weather) Forecast(ctx context.Context) (string, error) {
	loc, err := w.locate(ctx)
	if err != nil {
		return "", err
	}
	resp, err := w.forecast(ctx, loc, w.dailyParams(7))
	if err != nil {
		return "", err
	}
	days := w.formatDays(resp)
	if len(days) == 0 {
		return "", fmt.Errorf("forecast response had no daily data")
	}
	return fmt.Sprintf("Forecast for %s:\n%s", loc.label(), strings.Join(days, "\n")), nil
}

func (w *Weather) dailyParams(days int) url.Values {
	return url.Values{
		"daily":         {"weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max"},
		"forecast_days": {strconv.Itoa(days)},
	}
}

func (w *Weather) formatDays(resp forecastResponse) []string {
	d := resp.Daily
	n := min(len(d.Time), len(d.WeatherCode), len(d.TempMax), len(d.TempMin))
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line := fmt.Sprintf("%s: %s, high %.0f°%s, low %.0f°%s", weekday(d.Time[i]), describeWeatherCode(d.WeatherCode[i]),
			d.TempMax[i], w.unitSymbol(), d.TempMin[i], w.unitSymbol())
		if i < len(d.Precipitation) {
			line += fmt.Sprintf(", %.0f%% chance of precipitation", d.Precipitation[i])
		}
		out = append(out, line)
	}
	return out
}

func (w *Weather) unitSymbol() string {
	if w.cfg.Unit == "celsius" {
		return "C"
	}
	return "F"
}

func (w *Weather) locate(ctx context.Context) (location, error) {
	body, err := w.get(ctx, w.cfg.GeoURL)
	if err != nil {
		return location{}, fmt.Errorf("locate: %w", err)
	}
	var info ipInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return location{}, fmt.Errorf("decode location: %w", err)
	}
	lat, lon, ok := strings.Cut(info.Loc, ",")
	if !ok {
		return location{}, fmt.Errorf("location %q is not lat,lon", info.Loc)
	}
	loc := location{City: info.City, Region: info.Region}
	if loc.Latitude, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return location{}, fmt.Errorf("parse latitude: %w", err)
	}
	if loc.Longitude, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil {
		return location{}, fmt.Errorf("parse longitude: %w", err)
	}
	return loc, nil
}

func (l location) label() string {
	switch {
	case l.City != "" && l.Region != "":
		return l.City + ", " + l.Region
	case l.City != "":
		return l.City
	}
	return fmt.Sprintf("%.2f,%.2f", l.Latitude, l.Longitude)
}

func (w *Weather) forecast(ctx context.Context, loc location, params url.Values) (forecastResponse, error) {
	params.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	params.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	params.Set("temperature_unit", w.cfg.Unit)
	params.Set("wind_speed_unit", "mph")
	params.Set("timezone", "auto")
	body, err := w.get(ctx, w.cfg.ForecastURL+"?"+params.Encode())
	if err != nil {
		return forecastResponse{}, fmt.Errorf("fetch forecast: %w", err)
	}
	var resp forecastResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return forecastResponse{}, fmt.Errorf("decode forecast: %w", err)
	}
	return resp, nil
}

// get fetches target with exponential backoff, serving repeated requests from the cache.
func (w *Weather) get(ctx context.Context, target string) ([]byte, error) {
	if body, ok := w.cache.Get(target); ok {
		return body, nil
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = w.delay
	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return nil, backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
		}
		return body, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(w.tries))
	if err != nil {
		return nil, err
	}
	w.cache.Add(target, body)
	return body, nil
}

func weekday(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Weekday().String()
}

// describeWeatherCode maps WMO weather interpretation codes to words.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code >= 95:
		return "thunderstorms"
	}
	return "unknown conditions"
}

package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newWeatherServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var forecastCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/geo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"city":"Portland","region":"Oregon","loc":"45.52,-122.68"}`))
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		n := forecastCalls.Add(1)
		if n <= failures {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("latitude") != "45.5200" {
			http.Error(w, "bad latitude", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Has("current") {
			w.Write([]byte(`{"current":{"temperature_2m":61.2,"apparent_temperature":59,"relative_humidity_2m":70,"weather_code":3,"wind_speed_10m":4}}`))
			return
		}
		w.Write([]byte(`{"daily":{"time":["2024-03-01","2024-03-02"],"weather_code":[61,0],"temperature_2m_max":[55,60],"temperature_2m_min":[41,44],"precipitation_probability_max":[80,5]}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &forecastCalls
}

func newTestWeather(srv *httptest.Server) *Weather {
	w := NewWeather(WeatherConfig{ForecastURL: srv.URL + "/forecast", GeoURL: srv.URL + "/geo", CacheTTL: time.Minute})
	w.delay = time.Millisecond
	return w
}

func TestWeatherNowRetriesAndCaches(t *testing.T) {
	srv, calls := newWeatherServer(t, 2)
	w := newTestWeather(srv)

	got, err := w.Now(context.Background())
	if err != nil {
		t.Fatalf("now: %v", err)
	}
	if !strings.Contains(got, "Portland, Oregon") || !strings.Contains(got, "overcast") || !strings.Contains(got, "61°F") {
		t.Fatalf("unexpected summary %q", got)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 2 failures and 1 success, got %d calls", calls.Load())
	}

	if _, err := w.Now(context.Background()); err != nil {
		t.Fatalf("cached now: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected cached response, got %d calls", calls.Load())
	}
}

func TestWeatherGivesUpAfterMaxTries(t *testing.T) {
	srv, calls := newWeatherServer(t, 100)
	w := newTestWeather(srv)
	if _, err := w.Today(context.Background()); err == nil {
		t.Fatal("expected error after retries")
	}
	if calls.Load() != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls.Load())
	}
}

func TestWeatherForecastFormatsDays(t *testing.T) {
	srv, _ := newWeatherServer(t, 0)
	w := newTestWeather(srv)
	got, err := w.Forecast(context.Background())
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if !strings.Contains(got, "Friday: rain, high 55°F, low 41°F, 80% chance of precipitation") {
		t.Fatalf("unexpected forecast %q", got)
	}
	if !strings.Contains(got, "Saturday: clear sky") {
		t.Fatalf("expected second day, got %q", got)
	}
}

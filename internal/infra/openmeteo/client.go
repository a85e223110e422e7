package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
)

const (
	defaultBaseURL       = "https://api.open-meteo.com"
	defaultMarineBaseURL = "https://marine-api.open-meteo.com"
)

// Client выполняет запросы к Open-Meteo.
type Client struct {
	http          *http.Client
	baseURL       string
	marineBaseURL string
}

var _ domain.WeatherProvider = (*Client)(nil)

// NewClient создаёт клиента Open-Meteo.
func NewClient(baseURL, marineBaseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if marineBaseURL == "" {
		marineBaseURL = defaultMarineBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:          &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(baseURL, "/"),
		marineBaseURL: strings.TrimRight(marineBaseURL, "/"),
	}
}

type currentPayload struct {
	Temperature *float64 `json:"temperature_2m"`
	WeatherCode *int     `json:"weather_code"`
	WindSpeed   *float64 `json:"wind_speed_10m"`
	IsDay       *int     `json:"is_day"`
}

// legacyCurrent — старый формат current_weather, встречается у части зеркал.
type legacyCurrent struct {
	Temperature *float64 `json:"temperature"`
	WeatherCode *int     `json:"weathercode"`
	WindSpeed   *float64 `json:"windspeed"`
	IsDay       *int     `json:"is_day"`
}

type forecastResponse struct {
	Current        *currentPayload `json:"current"`
	CurrentWeather *legacyCurrent  `json:"current_weather"`
}

type marineResponse struct {
	Hourly struct {
		Time                  []string  `json:"time"`
		SeaSurfaceTemperature []float64 `json:"sea_surface_temperature"`
		WaterTemperature      []float64 `json:"water_temperature"`
	} `json:"hourly"`
}

// FetchCurrent возвращает текущие условия в точке.
func (c *Client) FetchCurrent(ctx context.Context, lat, lon float64) (domain.CurrentWeather, error) {
	endpoint := fmt.Sprintf(
		"%s/v1/forecast?latitude=%g&longitude=%g&current=temperature_2m,weather_code,wind_speed_10m,is_day&timezone=auto",
		c.baseURL, lat, lon,
	)
	var payload forecastResponse
	if err := c.getJSON(ctx, endpoint, "forecast", &payload); err != nil {
		return domain.CurrentWeather{}, err
	}
	current := payload.Current
	if current == nil && payload.CurrentWeather != nil {
		cw := payload.CurrentWeather
		current = &currentPayload{
			Temperature: cw.Temperature,
			WeatherCode: cw.WeatherCode,
			WindSpeed:   cw.WindSpeed,
			IsDay:       cw.IsDay,
		}
	}
	if current == nil || current.Temperature == nil {
		return domain.CurrentWeather{}, fmt.Errorf("open-meteo: ответ без блока current")
	}
	out := domain.CurrentWeather{Temperature: *current.Temperature}
	if current.WeatherCode != nil {
		out.WeatherCode = *current.WeatherCode
	}
	if current.WindSpeed != nil {
		out.WindSpeed = *current.WindSpeed
	}
	if current.IsDay != nil {
		out.IsDay = *current.IsDay != 0
	}
	return out, nil
}

// FetchMarine возвращает почасовую температуру воды. Времена в ответе
// локальные для точки (timezone=auto) и парсятся без зоны.
func (c *Client) FetchMarine(ctx context.Context, lat, lon float64) ([]domain.SeaSample, error) {
	endpoint := fmt.Sprintf(
		"%s/v1/marine?latitude=%g&longitude=%g&hourly=sea_surface_temperature&timezone=auto",
		c.marineBaseURL, lat, lon,
	)
	var payload marineResponse
	if err := c.getJSON(ctx, endpoint, "marine", &payload); err != nil {
		return nil, err
	}
	times := payload.Hourly.Time
	temps := payload.Hourly.SeaSurfaceTemperature
	if len(temps) == 0 {
		temps = payload.Hourly.WaterTemperature
	}
	if len(times) == 0 || len(temps) == 0 {
		return nil, fmt.Errorf("open-meteo: ответ без блока hourly")
	}
	n := len(times)
	if len(temps) < n {
		n = len(temps)
	}
	samples := make([]domain.SeaSample, 0, n)
	for i := 0; i < n; i++ {
		ts, err := time.Parse("2006-01-02T15:04", times[i])
		if err != nil {
			return nil, fmt.Errorf("open-meteo: разбор времени %q: %w", times[i], err)
		}
		samples = append(samples, domain.SeaSample{Time: ts, Temperature: temps[i]})
	}
	return samples, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("open-meteo: build request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("openmeteo", operation, "", start, err)
		return fmt.Errorf("open-meteo: do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("openmeteo", operation, "", start, err)
		return fmt.Errorf("open-meteo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("open-meteo: unexpected status %d", resp.StatusCode)
		metrics.ObserveNetworkRequest("openmeteo", operation, "", start, err)
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.ObserveNetworkRequest("openmeteo", operation, "", start, err)
		return fmt.Errorf("open-meteo: decode response: %w", err)
	}
	metrics.ObserveNetworkRequest("openmeteo", operation, "", start, nil)
	return nil
}

package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	WeatherFetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_fetch_failures_total",
		Help: "Ошибки получения прогноза по точкам",
	}, []string{"city_id"})

	WeatherRefreshSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "weather_refresh_seconds",
		Help:    "Время полного цикла обновления погоды",
		Buckets: prometheus.DefBuckets,
	})

	PostsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_published_total",
		Help: "Количество опубликованных сообщений",
	}, []string{"kind"})

	PostsUpdatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "posts_updated_total",
		Help: "Количество обновлённых погодных постов",
	})

	ScheduleFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "schedule_fired_total",
		Help: "Количество сработавших отложенных публикаций",
	})

	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		WeatherFetchFailures,
		WeatherRefreshSeconds,
		PostsPublishedTotal,
		PostsUpdatedTotal,
		ScheduleFiredTotal,
		BotSendErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// IncWeatherFetchFailure увеличивает счётчик ошибок по точке.
func IncWeatherFetchFailure(cityID int64) {
	WeatherFetchFailures.WithLabelValues(strconv.FormatInt(cityID, 10)).Inc()
}

// IncPublished увеличивает счётчик публикаций указанного вида.
func IncPublished(kind string) {
	PostsPublishedTotal.WithLabelValues(kind).Inc()
}

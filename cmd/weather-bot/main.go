package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-weather-bot/internal/adapters/bot"
	"tg-weather-bot/internal/adapters/repo"
	"tg-weather-bot/internal/adapters/telegram"
	"tg-weather-bot/internal/infra/cache"
	"tg-weather-bot/internal/infra/config"
	"tg-weather-bot/internal/infra/db"
	infrahttp "tg-weather-bot/internal/infra/http"
	"tg-weather-bot/internal/infra/log"
	"tg-weather-bot/internal/infra/metrics"
	"tg-weather-bot/internal/infra/openmeteo"
	"tg-weather-bot/internal/usecase/posts"
	"tg-weather-bot/internal/usecase/schedule"
	"tg-weather-bot/internal/usecase/weather"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	offset, err := bot.ParseOffset(cfg.Schedule.TZOffset)
	if err != nil {
		logger.Fatal().Err(err).Msg("некорректный TZ_OFFSET")
	}

	pool, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к БД")
	}
	defer pool.Close()

	store := repo.NewPostgres(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("не удалось подготовить схему")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("не удалось подключиться к Redis")
	}
	dedupe := cache.NewRedis(rdb)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	metrics.StartServer(ctx, log.Component(logger, "metrics"), cfg.MetricsAddr)

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("не удалось создать бота")
	}
	tg := telegram.NewClient(botAPI, log.Component(logger, "telegram"))
	if cfg.Telegram.WebhookURL != "" {
		if err := tg.SetWebhook(cfg.Telegram.WebhookURL + "/webhook/" + cfg.Telegram.Token); err != nil {
			logger.Fatal().Err(err).Msg("не удалось установить вебхук")
		}
	}

	provider := openmeteo.NewClient(cfg.Weather.BaseURL, cfg.Weather.MarineBaseURL, cfg.Weather.Timeout)
	weatherSvc := weather.NewService(store, store, provider, offset, log.Component(logger, "weather"))
	postsSvc := posts.NewService(store, store, weatherSvc, tg, log.Component(logger, "posts"))
	scheduleSvc := schedule.NewService(store, store, store, store, tg, weatherSvc, postsSvc, offset, log.Component(logger, "schedule"))

	h := bot.NewHandler(botAPI, log.Component(logger, "bot"), tg, store, store, store, store, weatherSvc, postsSvc, scheduleSvc, cfg.Schedule.TZOffset)

	srv := infrahttp.NewServer(log.Component(logger, "http"))
	srv.Router.Post("/webhook/{token}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "token") != cfg.Telegram.Token {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var update tgbotapi.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		key := fmt.Sprintf("tg:update:%d", update.UpdateID)
		err := dedupe.Once(key, 24*time.Hour, func() error {
			h.HandleUpdate(r.Context(), update)
			return nil
		})
		if err != nil {
			logger.Error().Err(err).Int("update_id", update.UpdateID).Msg("не удалось обработать апдейт")
		}
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := srv.Start(cfg.Telegram.WebhookListen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP сервер остановлен")
		}
	}()

	go runLoop(ctx, log.Component(logger, "loop"), cfg.Schedule.Interval, weatherSvc, postsSvc, scheduleSvc)

	<-ctx.Done()
	logger.Info().Msg("остановка бота")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

// runLoop выполняет фоновый цикл: доставку отложенных публикаций, сбор
// погоды, обновление живых постов и ежедневные публикации в каналах.
func runLoop(ctx context.Context, logger zerolog.Logger, interval time.Duration, weatherSvc *weather.Service, postsSvc *posts.Service, scheduleSvc *schedule.Service) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx, logger, weatherSvc, postsSvc, scheduleSvc)
		}
	}
}

func tick(ctx context.Context, logger zerolog.Logger, weatherSvc *weather.Service, postsSvc *posts.Service, scheduleSvc *schedule.Service) {
	if err := scheduleSvc.ProcessDue(ctx); err != nil {
		logger.Error().Err(err).Msg("не удалось обработать очередь публикаций")
	}
	changed, err := weatherSvc.Collect(ctx, false)
	if err != nil {
		logger.Error().Err(err).Msg("не удалось собрать погоду")
	}
	seaUpdated, err := weatherSvc.CollectSea(ctx, false)
	if err != nil {
		logger.Error().Err(err).Msg("не удалось собрать температуру воды")
	}
	if seaUpdated {
		// вода входит в каждый шаблон, обновляются все посты
		changed = nil
	}
	if len(changed) > 0 || seaUpdated {
		if err := postsSvc.UpdateAffected(ctx, changed); err != nil {
			logger.Error().Err(err).Msg("не удалось обновить посты")
		}
		if err := postsSvc.UpdateButtons(ctx); err != nil {
			logger.Error().Err(err).Msg("не удалось обновить кнопки")
		}
	}
	if err := scheduleSvc.ProcessPublishChannels(ctx); err != nil {
		logger.Error().Err(err).Msg("не удалось обработать каналы погоды")
	}
}

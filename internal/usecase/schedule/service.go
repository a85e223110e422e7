// Package schedule управляет отложенными публикациями и ежедневной
// автопубликацией погоды по каналам.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
)

// Renderer рендерит шаблон по кэшу погоды.
type Renderer interface {
	Render(template string) (string, error)
}

// LatestRecorder запоминает последний пост погоды и обновляет кнопки.
type LatestRecorder interface {
	RecordLatest(ctx context.Context, ref domain.MessageRef) error
}

// Service выполняет отложенные задачи и ежедневные публикации погоды.
type Service struct {
	jobs     domain.ScheduleRepo
	channels domain.PublishChannelRepo
	assets   domain.AssetRepo
	settings domain.SettingsRepo
	tg       domain.Messenger
	renderer Renderer
	latest   LatestRecorder
	offset   time.Duration
	log      zerolog.Logger

	nowFn func() time.Time
}

// NewService создаёт сервис расписания. offset задаёт локальное время
// ежедневных автопубликаций, общее для всех каналов.
func NewService(jobs domain.ScheduleRepo, channels domain.PublishChannelRepo, assets domain.AssetRepo, settings domain.SettingsRepo, tg domain.Messenger, renderer Renderer, latest LatestRecorder, offset time.Duration, log zerolog.Logger) *Service {
	return &Service{
		jobs:     jobs,
		channels: channels,
		assets:   assets,
		settings: settings,
		tg:       tg,
		renderer: renderer,
		latest:   latest,
		offset:   offset,
		log:      log,
		nowFn:    time.Now,
	}
}

// CreateBatch создаёт по задаче на каждый целевой канал. Задачи партии
// связаны общим BatchID.
func (s *Service) CreateBatch(source domain.MessageRef, targets []int64, publishAt time.Time) ([]int64, error) {
	batch := uuid.NewString()
	jobs := make([]domain.ScheduledPost, 0, len(targets))
	for _, target := range targets {
		jobs = append(jobs, domain.ScheduledPost{
			BatchID:      batch,
			FromChatID:   source.ChatID,
			MessageID:    source.MessageID,
			TargetChatID: target,
			PublishAt:    publishAt.UTC(),
		})
	}
	ids, err := s.jobs.CreateScheduled(jobs)
	if err != nil {
		return nil, fmt.Errorf("создание расписания: %w", err)
	}
	return ids, nil
}

// Cancel удаляет неотправленную задачу.
func (s *Service) Cancel(id int64) error {
	return s.jobs.DeleteScheduled(id)
}

// Reschedule переносит публикацию на новое время.
func (s *Service) Reschedule(id int64, at time.Time) error {
	return s.jobs.UpdatePublishAt(id, at.UTC())
}

// ListPending возвращает неотправленные задачи.
func (s *Service) ListPending() ([]domain.ScheduledPost, error) {
	return s.jobs.ListPending()
}

// History возвращает последние отправленные задачи.
func (s *Service) History(limit int) ([]domain.ScheduledPost, error) {
	return s.jobs.ListSentHistory(limit)
}

// AddPublishChannel включает ежедневную автопубликацию погоды в канале.
func (s *Service) AddPublishChannel(channelID int64, postTime string) error {
	return s.channels.UpsertPublishChannel(domain.PublishChannel{ChannelID: channelID, PostTime: postTime})
}

// RemovePublishChannel выключает автопубликацию в канале.
func (s *Service) RemovePublishChannel(channelID int64) error {
	return s.channels.DeletePublishChannel(channelID)
}

// PublishChannels возвращает каналы автопубликации.
func (s *Service) PublishChannels() ([]domain.PublishChannel, error) {
	return s.channels.ListPublishChannels()
}

// ProcessDue публикует созревшие задачи. Задача помечается
// отправленной сразу после успешной доставки, до перехода к следующей;
// неудачная остаётся в очереди и повторяется каждый тик.
func (s *Service) ProcessDue(ctx context.Context) error {
	now := s.nowFn().UTC()
	due, err := s.jobs.ListDue(now)
	if err != nil {
		return fmt.Errorf("список созревших задач: %w", err)
	}
	for _, job := range due {
		if err := s.deliver(ctx, job); err != nil {
			s.log.Error().Err(err).Int64("schedule_id", job.ID).Int64("target", job.TargetChatID).Msg("не удалось опубликовать по расписанию")
			continue
		}
		if err := s.jobs.MarkSent(job.ID, s.nowFn().UTC()); err != nil {
			s.log.Error().Err(err).Int64("schedule_id", job.ID).Msg("не удалось отметить публикацию")
			continue
		}
		metrics.ScheduleFiredTotal.Inc()
		s.log.Info().Int64("schedule_id", job.ID).Int64("target", job.TargetChatID).Msg("отложенная публикация выполнена")
	}
	return nil
}

// deliver пересылает сообщение в целевой канал. Если оригинал
// недоступен, один раз пробует копирование.
func (s *Service) deliver(ctx context.Context, job domain.ScheduledPost) error {
	_, err := s.tg.Forward(ctx, job.TargetChatID, job.FromChatID, job.MessageID)
	if err == nil {
		return nil
	}
	if !domain.IsTransportNotFound(err) {
		return err
	}
	if _, copyErr := s.tg.Copy(ctx, job.TargetChatID, job.FromChatID, job.MessageID, ""); copyErr != nil {
		return copyErr
	}
	return nil
}

// ProcessPublishChannels запускает ежедневную автопубликацию погоды.
// Канал публикуется не больше раза в локальный календарный день,
// сколько бы тиков ни прошло после назначенного времени.
func (s *Service) ProcessPublishChannels(ctx context.Context) error {
	channels, err := s.channels.ListPublishChannels()
	if err != nil {
		return fmt.Errorf("список каналов публикации: %w", err)
	}
	localNow := s.nowFn().UTC().Add(s.offset)
	for _, ch := range channels {
		if ch.LastPublishedAt != nil && sameDate(ch.LastPublishedAt.UTC().Add(s.offset), localNow) {
			continue
		}
		due, err := dailyInstant(localNow, ch.PostTime)
		if err != nil {
			s.log.Error().Err(err).Int64("channel_id", ch.ChannelID).Str("post_time", ch.PostTime).Msg("некорректное время автопубликации")
			continue
		}
		if localNow.Before(due) {
			continue
		}
		if err := s.PublishWeather(ctx, ch.ChannelID, nil, true); err != nil {
			s.log.Error().Err(err).Int64("channel_id", ch.ChannelID).Msg("не удалось опубликовать погоду")
		}
	}
	return nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// dailyInstant собирает сегодняшний момент срабатывания из "HH:MM".
func dailyInstant(localNow time.Time, postTime string) (time.Time, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(postTime))
	if err != nil {
		return time.Time{}, fmt.Errorf("разбор времени %q: %w", postTime, err)
	}
	return time.Date(localNow.Year(), localNow.Month(), localNow.Day(), parsed.Hour(), parsed.Minute(), 0, 0, localNow.Location()), nil
}

// PublishWeather публикует пост погоды в канал. Заготовка выбирается в
// два прохода: сначала первая неиспользованная с пересечением хэштегов,
// затем первая без тегов. Шаблон заготовки при неготовом кэше
// публикуется как есть. record отмечает дату автопубликации; ручной
// запуск дату не трогает и не блокирует ежедневный.
func (s *Service) PublishWeather(ctx context.Context, channelID int64, tags []string, record bool) error {
	var asset *domain.Asset
	picked, err := s.assets.NextAsset(tags)
	switch {
	case err == nil:
		asset = &picked
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("выбор заготовки: %w", err)
	}
	if asset != nil {
		if err := s.assets.MarkAssetUsed(asset.MessageID, s.nowFn().UTC()); err != nil {
			return fmt.Errorf("отметка заготовки: %w", err)
		}
	}

	caption := ""
	if asset != nil && asset.Template != "" {
		caption = asset.Template
		if rendered, err := s.renderer.Render(asset.Template); err == nil {
			caption = rendered
		} else {
			s.log.Warn().Err(err).Int64("channel_id", channelID).Msg("шаблон заготовки не отрендерился, публикуется как есть")
		}
	}

	assetChannel, err := s.settings.GetAssetChannel()
	hasAssetChannel := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("канал заготовок: %w", err)
	}

	var published *domain.MessageRef
	switch {
	case asset != nil && hasAssetChannel:
		msgID, err := s.tg.Copy(ctx, channelID, assetChannel, asset.MessageID, caption)
		if err != nil {
			return fmt.Errorf("копирование заготовки: %w", err)
		}
		if err := s.tg.Delete(ctx, assetChannel, asset.MessageID); err != nil {
			s.log.Warn().Err(err).Int64("message_id", asset.MessageID).Msg("не удалось удалить использованную заготовку")
		}
		published = &domain.MessageRef{ChatID: channelID, MessageID: msgID}
		metrics.IncPublished("asset")
	case caption != "":
		msgID, err := s.tg.SendText(ctx, channelID, caption)
		if err != nil {
			return fmt.Errorf("отправка поста погоды: %w", err)
		}
		published = &domain.MessageRef{ChatID: channelID, MessageID: msgID}
		metrics.IncPublished("text")
	}

	if record {
		if err := s.channels.StampPublished(channelID, s.nowFn().UTC()); err != nil {
			return fmt.Errorf("отметка автопубликации: %w", err)
		}
	}
	if published != nil {
		s.log.Info().Int64("channel_id", channelID).Int64("message_id", published.MessageID).Msg("пост погоды опубликован")
		if err := s.latest.RecordLatest(ctx, *published); err != nil {
			s.log.Error().Err(err).Msg("не удалось запомнить последний пост погоды")
		}
	}
	return nil
}

// Package weather собирает показания внешнего источника прогнозов и
// рендерит шаблоны по кэшу.
package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
)

const (
	refreshInterval = 30 * time.Minute
	retryDelay      = time.Minute
	maxAttempts     = 3
)

type backoffState struct {
	attempts int
	last     time.Time
}

// Service обновляет кэш погоды с паузами после неудачных запросов.
// Счётчики неудач живут в памяти процесса: после рестарта точка может
// попробовать обновиться сразу.
type Service struct {
	cities   domain.WeatherRepo
	seas     domain.SeaRepo
	provider domain.WeatherProvider
	offset   time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	failed map[int64]backoffState

	nowFn func() time.Time
}

// NewService создаёт сервис сбора погоды.
func NewService(cities domain.WeatherRepo, seas domain.SeaRepo, provider domain.WeatherProvider, offset time.Duration, log zerolog.Logger) *Service {
	return &Service{
		cities:   cities,
		seas:     seas,
		provider: provider,
		offset:   offset,
		log:      log,
		failed:   make(map[int64]backoffState),
		nowFn:    time.Now,
	}
}

func (s *Service) localNow(now time.Time) time.Time {
	return now.Add(s.offset)
}

// Collect обновляет кэш городов и возвращает id с новыми данными.
// Ошибка одной точки не мешает остальным.
func (s *Service) Collect(ctx context.Context, force bool) ([]int64, error) {
	cities, err := s.cities.ListCities()
	if err != nil {
		return nil, fmt.Errorf("список городов: %w", err)
	}

	var changed []int64
	for _, city := range cities {
		now := s.nowFn().UTC()
		attempts, proceed := s.gate(city.ID, now, force)
		if !proceed {
			continue
		}

		current, err := s.provider.FetchCurrent(ctx, city.Lat, city.Lon)
		if err != nil {
			s.noteFailure(city.ID, attempts, now)
			metrics.IncWeatherFetchFailure(city.ID)
			s.log.Error().Err(err).Int64("city_id", city.ID).Str("city", city.Name).Msg("не удалось получить погоду")
			continue
		}
		s.clearFailure(city.ID)

		ts := now.Truncate(time.Second)
		hour := domain.HourReading{
			CityID:      city.ID,
			Timestamp:   ts,
			Temperature: current.Temperature,
			WeatherCode: current.WeatherCode,
			WindSpeed:   current.WindSpeed,
			IsDay:       current.IsDay,
		}
		if err := s.cities.AppendHourReading(hour); err != nil {
			s.log.Error().Err(err).Int64("city_id", city.ID).Msg("не удалось сохранить часовое измерение")
			continue
		}
		day := domain.DayReading{
			CityID:      city.ID,
			Day:         time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
			Temperature: current.Temperature,
			WeatherCode: current.WeatherCode,
			WindSpeed:   current.WindSpeed,
		}
		if err := s.cities.UpsertDayReading(day); err != nil {
			s.log.Error().Err(err).Int64("city_id", city.ID).Msg("не удалось сохранить дневной срез")
			continue
		}

		s.log.Info().Int64("city_id", city.ID).Float64("temperature", current.Temperature).Int("weather_code", current.WeatherCode).Msg("погода закэширована")
		changed = append(changed, city.ID)
	}
	return changed, nil
}

// gate решает, пора ли запрашивать точку. Возвращает число накопленных
// неудач (после возможного сброса) и разрешение на запрос.
func (s *Service) gate(cityID int64, now time.Time, force bool) (int, bool) {
	s.mu.Lock()
	state := s.failed[cityID]
	s.mu.Unlock()

	if force {
		return state.attempts, true
	}

	latest, err := s.cities.LatestHourReading(cityID)
	if err == nil && now.Sub(latest.Timestamp) < refreshInterval {
		return state.attempts, false
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Error().Err(err).Int64("city_id", cityID).Msg("не удалось прочитать кэш погоды")
	}

	if state.attempts >= maxAttempts {
		if now.Sub(state.last) < refreshInterval {
			return state.attempts, false
		}
		// пауза выдержана, счёт начинается заново
		return 0, true
	}
	if state.attempts > 0 && now.Sub(state.last) < retryDelay {
		return state.attempts, false
	}
	return state.attempts, true
}

func (s *Service) noteFailure(cityID int64, attempts int, now time.Time) {
	s.mu.Lock()
	s.failed[cityID] = backoffState{attempts: attempts + 1, last: now}
	s.mu.Unlock()
}

func (s *Service) clearFailure(cityID int64) {
	s.mu.Lock()
	delete(s.failed, cityID)
	s.mu.Unlock()
}

// CollectSea обновляет кэш температуры воды. Возвращает признак, что
// хотя бы одно море записало свежие данные: id городов и морей делят
// числовое пространство, поэтому адресно обновить посты нельзя и
// вызывающий код обновляет все.
func (s *Service) CollectSea(ctx context.Context, force bool) (bool, error) {
	seas, err := s.seas.ListSeas()
	if err != nil {
		return false, fmt.Errorf("список морей: %w", err)
	}

	updated := false
	for _, sea := range seas {
		now := s.nowFn().UTC()
		if !force {
			reading, err := s.seas.GetSeaReading(sea.ID)
			if err == nil && now.Sub(reading.UpdatedAt) < refreshInterval {
				continue
			}
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				s.log.Error().Err(err).Int64("sea_id", sea.ID).Msg("не удалось прочитать кэш моря")
			}
		}

		samples, err := s.provider.FetchMarine(ctx, sea.Lat, sea.Lon)
		if err != nil {
			s.log.Error().Err(err).Int64("sea_id", sea.ID).Str("sea", sea.Name).Msg("не удалось получить температуру воды")
			continue
		}

		reading := buildSeaReading(sea.ID, samples, s.localNow(now), now)
		if err := s.seas.UpsertSeaReading(reading); err != nil {
			s.log.Error().Err(err).Int64("sea_id", sea.ID).Msg("не удалось сохранить температуру воды")
			continue
		}
		updated = true
	}
	return updated, nil
}

// buildSeaReading выбирает из почасового ряда срезы на завтра: первые
// значения в 00, 06, 12 и 18 часов. Текущей температурой считается
// голова ряда. Отсутствующие срезы остаются nil, строка всё равно
// записывается.
func buildSeaReading(seaID int64, samples []domain.SeaSample, localNow, updatedAt time.Time) domain.SeaReading {
	reading := domain.SeaReading{SeaID: seaID, UpdatedAt: updatedAt}
	if len(samples) == 0 {
		return reading
	}
	head := samples[0].Temperature
	reading.Current = &head

	ty, tm, td := localNow.AddDate(0, 0, 1).Date()
	for _, sample := range samples {
		y, m, d := sample.Time.Date()
		if y != ty || m != tm || d != td {
			continue
		}
		v := sample.Temperature
		switch sample.Time.Hour() {
		case 6:
			if reading.Morning == nil {
				reading.Morning = &v
			}
		case 12:
			if reading.Midday == nil {
				reading.Midday = &v
			}
		case 18:
			if reading.Evening == nil {
				reading.Evening = &v
			}
		case 0:
			if reading.Night == nil {
				reading.Night = &v
			}
		}
		if reading.Morning != nil && reading.Midday != nil && reading.Evening != nil && reading.Night != nil {
			break
		}
	}
	return reading
}

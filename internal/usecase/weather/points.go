package weather

import (
	"errors"
	"fmt"
	"strings"

	"tg-weather-bot/internal/domain"
)

// AddCity регистрирует точку сбора прогноза.
func (s *Service) AddCity(city domain.City) (int64, error) {
	return s.cities.AddCity(city)
}

// DeleteCity удаляет город вместе с кэшем.
func (s *Service) DeleteCity(id int64) error {
	return s.cities.DeleteCity(id)
}

// Cities возвращает все города.
func (s *Service) Cities() ([]domain.City, error) {
	return s.cities.ListCities()
}

// AddSea регистрирует точку сбора температуры воды.
func (s *Service) AddSea(sea domain.Sea) (int64, error) {
	return s.seas.AddSea(sea)
}

// DeleteSea удаляет море вместе с кэшем.
func (s *Service) DeleteSea(id int64) error {
	return s.seas.DeleteSea(id)
}

// Seas возвращает все моря.
func (s *Service) Seas() ([]domain.Sea, error) {
	return s.seas.ListSeas()
}

// Summary собирает сводку по кэшу всех городов и морей. Море попадает
// в сводку только с полным набором значений на завтра.
func (s *Service) Summary() (string, error) {
	cities, err := s.cities.ListCities()
	if err != nil {
		return "", fmt.Errorf("список городов: %w", err)
	}
	if len(cities) == 0 {
		return "Города не добавлены", nil
	}

	var b strings.Builder
	for _, city := range cities {
		latest, err := s.cities.LatestHourReading(city.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			fmt.Fprintf(&b, "%s: данных нет\n", city.Name)
			continue
		case err != nil:
			return "", fmt.Errorf("кэш города %d: %w", city.ID, err)
		}
		at := s.localNow(latest.Timestamp.UTC()).Format("15:04 02.01")
		fmt.Fprintf(&b, "%s: %.1f°C %s, ветер %.1f м/с, %s\n",
			city.Name, latest.Temperature, WeatherEmoji(latest.WeatherCode, latest.IsDay), latest.WindSpeed, at)
	}

	seas, err := s.seas.ListSeas()
	if err != nil {
		return "", fmt.Errorf("список морей: %w", err)
	}
	for _, sea := range seas {
		reading, err := s.seas.GetSeaReading(sea.ID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			fmt.Fprintf(&b, "%s: данных нет\n", sea.Name)
			continue
		case err != nil:
			return "", fmt.Errorf("кэш моря %d: %w", sea.ID, err)
		}
		if reading.Current == nil || reading.Morning == nil || reading.Midday == nil || reading.Evening == nil || reading.Night == nil {
			fmt.Fprintf(&b, "%s: данных нет\n", sea.Name)
			continue
		}
		fmt.Fprintf(&b, "%s: %s %.1f°C, завтра %.1f/%.1f/%.1f/%.1f\n",
			sea.Name, seaEmoji, *reading.Current, *reading.Morning, *reading.Midday, *reading.Evening, *reading.Night)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

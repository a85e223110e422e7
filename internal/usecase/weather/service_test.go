package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-weather-bot/internal/domain"
)

type stubCityRepo struct {
	cities   []domain.City
	latest   map[int64]domain.HourReading
	appended []domain.HourReading
	days     []domain.DayReading
}

func newStubCityRepo(cities ...domain.City) *stubCityRepo {
	return &stubCityRepo{cities: cities, latest: make(map[int64]domain.HourReading)}
}

func (s *stubCityRepo) AddCity(domain.City) (int64, error) { return 0, nil }
func (s *stubCityRepo) DeleteCity(int64) error             { return nil }
func (s *stubCityRepo) ListCities() ([]domain.City, error) { return s.cities, nil }
func (s *stubCityRepo) LatestHourReading(cityID int64) (domain.HourReading, error) {
	r, ok := s.latest[cityID]
	if !ok {
		return domain.HourReading{}, domain.ErrNotFound
	}
	return r, nil
}
func (s *stubCityRepo) AppendHourReading(r domain.HourReading) error {
	s.appended = append(s.appended, r)
	s.latest[r.CityID] = r
	return nil
}
func (s *stubCityRepo) UpsertDayReading(r domain.DayReading) error {
	s.days = append(s.days, r)
	return nil
}

type stubSeaRepo struct {
	seas     []domain.Sea
	readings map[int64]domain.SeaReading
	upserted []domain.SeaReading
}

func newStubSeaRepo(seas ...domain.Sea) *stubSeaRepo {
	return &stubSeaRepo{seas: seas, readings: make(map[int64]domain.SeaReading)}
}

func (s *stubSeaRepo) AddSea(domain.Sea) (int64, error) { return 0, nil }
func (s *stubSeaRepo) DeleteSea(int64) error            { return nil }
func (s *stubSeaRepo) ListSeas() ([]domain.Sea, error)  { return s.seas, nil }
func (s *stubSeaRepo) GetSeaReading(seaID int64) (domain.SeaReading, error) {
	r, ok := s.readings[seaID]
	if !ok {
		return domain.SeaReading{}, domain.ErrNotFound
	}
	return r, nil
}
func (s *stubSeaRepo) UpsertSeaReading(r domain.SeaReading) error {
	s.upserted = append(s.upserted, r)
	s.readings[r.SeaID] = r
	return nil
}

type stubProvider struct {
	current     domain.CurrentWeather
	samples     []domain.SeaSample
	failCalls   int // первые N запросов погоды завершаются ошибкой
	calls       int
	marineFails int
	marineCalls int
}

func (s *stubProvider) FetchCurrent(context.Context, float64, float64) (domain.CurrentWeather, error) {
	s.calls++
	if s.calls <= s.failCalls {
		return domain.CurrentWeather{}, errors.New("источник недоступен")
	}
	return s.current, nil
}

func (s *stubProvider) FetchMarine(context.Context, float64, float64) ([]domain.SeaSample, error) {
	s.marineCalls++
	if s.marineCalls <= s.marineFails {
		return nil, errors.New("источник недоступен")
	}
	return s.samples, nil
}

func TestCollectCachesReading(t *testing.T) {
	cities := newStubCityRepo(domain.City{ID: 7, Name: "Сочи", Lat: 43.6, Lon: 39.7})
	provider := &stubProvider{current: domain.CurrentWeather{Temperature: 21.4, WeatherCode: 3, WindSpeed: 4.2, IsDay: true}}
	svc := NewService(cities, newStubSeaRepo(), provider, 0, zerolog.Nop())
	base := time.Date(2024, time.March, 10, 12, 0, 0, 500000000, time.UTC)
	svc.nowFn = func() time.Time { return base }

	changed, err := svc.Collect(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(changed) != 1 || changed[0] != 7 {
		t.Fatalf("ожидали обновление города 7, получили %v", changed)
	}
	if len(cities.appended) != 1 {
		t.Fatalf("ожидали одно часовое измерение")
	}
	hour := cities.appended[0]
	if !hour.Timestamp.Equal(base.Truncate(time.Second)) {
		t.Fatalf("ожидали метку с точностью до секунды, получили %v", hour.Timestamp)
	}
	if hour.Temperature != 21.4 || hour.WeatherCode != 3 || hour.WindSpeed != 4.2 || !hour.IsDay {
		t.Fatalf("неожиданное измерение: %+v", hour)
	}
	if len(cities.days) != 1 {
		t.Fatalf("ожидали дневной срез")
	}
	wantDay := time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)
	if !cities.days[0].Day.Equal(wantDay) {
		t.Fatalf("ожидали день %v, получили %v", wantDay, cities.days[0].Day)
	}
}

func TestCollectSkipsFreshReading(t *testing.T) {
	cities := newStubCityRepo(domain.City{ID: 7, Name: "Сочи"})
	provider := &stubProvider{}
	svc := NewService(cities, newStubSeaRepo(), provider, 0, zerolog.Nop())
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return base }
	cities.latest[7] = domain.HourReading{CityID: 7, Timestamp: base.Add(-10 * time.Minute)}

	changed, err := svc.Collect(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(changed) != 0 {
		t.Fatalf("не ожидали обновлений, получили %v", changed)
	}
	if provider.calls != 0 {
		t.Fatalf("не ожидали запроса при свежем кэше, получили %d", provider.calls)
	}
}

func TestCollectRetryBackoff(t *testing.T) {
	cities := newStubCityRepo(domain.City{ID: 1, Name: "Анапа"})
	provider := &stubProvider{failCalls: 3, current: domain.CurrentWeather{Temperature: 10}}
	svc := NewService(cities, newStubSeaRepo(), provider, 0, zerolog.Nop())
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return now }

	if _, err := svc.Collect(context.Background(), false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("ожидали первый запрос, получили %d", provider.calls)
	}

	// до минуты после неудачи точка не опрашивается
	now = now.Add(30 * time.Second)
	svc.Collect(context.Background(), false)
	if provider.calls != 1 {
		t.Fatalf("ожидали пропуск в первую минуту, получили %d запросов", provider.calls)
	}

	// спустя минуту проходят вторая и третья попытки
	now = now.Add(time.Minute)
	svc.Collect(context.Background(), false)
	now = now.Add(2 * time.Minute)
	svc.Collect(context.Background(), false)
	if provider.calls != 3 {
		t.Fatalf("ожидали три попытки, получили %d", provider.calls)
	}

	// после третьей неудачи пауза получасовая
	now = now.Add(10 * time.Minute)
	svc.Collect(context.Background(), false)
	if provider.calls != 3 {
		t.Fatalf("ожидали получасовую паузу, получили %d запросов", provider.calls)
	}

	// пауза вышла: счёт обнуляется и запрос проходит
	now = now.Add(25 * time.Minute)
	changed, err := svc.Collect(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls != 4 {
		t.Fatalf("ожидали запрос после паузы, получили %d", provider.calls)
	}
	if len(changed) != 1 || changed[0] != 1 {
		t.Fatalf("ожидали обновление после успеха, получили %v", changed)
	}
}

func TestCollectForceBypassesPauses(t *testing.T) {
	cities := newStubCityRepo(domain.City{ID: 2, Name: "Туапсе"})
	provider := &stubProvider{failCalls: 99}
	svc := NewService(cities, newStubSeaRepo(), provider, 0, zerolog.Nop())
	now := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return now }

	svc.Collect(context.Background(), false)
	svc.Collect(context.Background(), true)
	svc.Collect(context.Background(), true)
	if provider.calls != 3 {
		t.Fatalf("ожидали, что force игнорирует паузы, получили %d запросов", provider.calls)
	}

	// счёт неудач при force не сбрасывался: обычный прогон заблокирован
	now = now.Add(5 * time.Minute)
	svc.Collect(context.Background(), false)
	if provider.calls != 3 {
		t.Fatalf("ожидали получасовую паузу после трёх неудач, получили %d запросов", provider.calls)
	}
}

func TestCollectForceIgnoresFreshCache(t *testing.T) {
	cities := newStubCityRepo(domain.City{ID: 3, Name: "Геленджик"})
	provider := &stubProvider{current: domain.CurrentWeather{Temperature: 15}}
	svc := NewService(cities, newStubSeaRepo(), provider, 0, zerolog.Nop())
	base := time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return base }
	cities.latest[3] = domain.HourReading{CityID: 3, Timestamp: base.Add(-time.Minute)}

	changed, err := svc.Collect(context.Background(), true)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("ожидали запрос несмотря на свежий кэш")
	}
	if len(changed) != 1 || changed[0] != 3 {
		t.Fatalf("ожидали обновление города 3, получили %v", changed)
	}
}

func TestCollectFailureKeepsOtherCities(t *testing.T) {
	cities := newStubCityRepo(
		domain.City{ID: 1, Name: "Анапа"},
		domain.City{ID: 2, Name: "Сочи"},
	)
	provider := &stubProvider{failCalls: 1, current: domain.CurrentWeather{Temperature: 12}}
	svc := NewService(cities, newStubSeaRepo(), provider, 0, zerolog.Nop())
	svc.nowFn = func() time.Time { return time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC) }

	changed, err := svc.Collect(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(changed) != 1 || changed[0] != 2 {
		t.Fatalf("ожидали обновление только второго города, получили %v", changed)
	}
}

func TestCollectSeaRefreshGate(t *testing.T) {
	seas := newStubSeaRepo(domain.Sea{ID: 5, Name: "Чёрное море"})
	provider := &stubProvider{samples: []domain.SeaSample{
		{Time: time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC), Temperature: 24.5},
	}}
	svc := NewService(newStubCityRepo(), seas, provider, 0, zerolog.Nop())
	now := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return now }

	updated, err := svc.CollectSea(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !updated {
		t.Fatalf("ожидали запись свежих данных")
	}
	if provider.marineCalls != 1 {
		t.Fatalf("ожидали один запрос, получили %d", provider.marineCalls)
	}

	// в течение получаса повторного запроса нет
	now = now.Add(10 * time.Minute)
	updated, err = svc.CollectSea(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if updated || provider.marineCalls != 1 {
		t.Fatalf("не ожидали обновления при свежем кэше")
	}

	// спустя полчаса — новый запрос
	now = now.Add(25 * time.Minute)
	updated, err = svc.CollectSea(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !updated || provider.marineCalls != 2 {
		t.Fatalf("ожидали запрос после устаревания кэша")
	}
}

func TestCollectSeaForceIgnoresFreshCache(t *testing.T) {
	seas := newStubSeaRepo(domain.Sea{ID: 5, Name: "Чёрное море"})
	provider := &stubProvider{samples: []domain.SeaSample{
		{Time: time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC), Temperature: 24.5},
	}}
	svc := NewService(newStubCityRepo(), seas, provider, 0, zerolog.Nop())
	now := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return now }
	seas.readings[5] = domain.SeaReading{SeaID: 5, UpdatedAt: now.Add(-time.Minute)}

	updated, err := svc.CollectSea(context.Background(), true)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !updated || provider.marineCalls != 1 {
		t.Fatalf("ожидали запрос несмотря на свежий кэш")
	}
}

func TestCollectSeaFailureKeepsOtherSeas(t *testing.T) {
	seas := newStubSeaRepo(
		domain.Sea{ID: 5, Name: "Чёрное море"},
		domain.Sea{ID: 6, Name: "Азовское море"},
	)
	provider := &stubProvider{marineFails: 1, samples: []domain.SeaSample{
		{Time: time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC), Temperature: 26.0},
	}}
	svc := NewService(newStubCityRepo(), seas, provider, 0, zerolog.Nop())
	svc.nowFn = func() time.Time { return time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC) }

	updated, err := svc.CollectSea(context.Background(), false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if !updated {
		t.Fatalf("ожидали запись для второго моря")
	}
	if len(seas.upserted) != 1 || seas.upserted[0].SeaID != 6 {
		t.Fatalf("ожидали запись только для моря 6, получили %+v", seas.upserted)
	}
}

func TestCollectSeaOffsetPicksLocalTomorrow(t *testing.T) {
	seas := newStubSeaRepo(domain.Sea{ID: 5, Name: "Чёрное море"})
	// локальное время точки уже 2 июля, завтра по нему — 3 июля
	provider := &stubProvider{samples: []domain.SeaSample{
		{Time: time.Date(2024, time.July, 2, 1, 0, 0, 0, time.UTC), Temperature: 24.0},
		{Time: time.Date(2024, time.July, 2, 6, 0, 0, 0, time.UTC), Temperature: 50.0},
		{Time: time.Date(2024, time.July, 3, 6, 0, 0, 0, time.UTC), Temperature: 23.1},
	}}
	svc := NewService(newStubCityRepo(), seas, provider, 3*time.Hour, zerolog.Nop())
	svc.nowFn = func() time.Time { return time.Date(2024, time.July, 1, 22, 0, 0, 0, time.UTC) }

	if _, err := svc.CollectSea(context.Background(), false); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	reading := seas.readings[5]
	if reading.Morning == nil || *reading.Morning != 23.1 {
		t.Fatalf("ожидали утро завтрашнего локального дня, получили %+v", reading)
	}
	if reading.Current == nil || *reading.Current != 24.0 {
		t.Fatalf("ожидали текущую температуру из головы ряда, получили %+v", reading)
	}
}

func TestBuildSeaReadingSlots(t *testing.T) {
	local := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2024, time.July, 2, 0, 0, 0, 0, time.UTC)
	samples := []domain.SeaSample{
		{Time: local, Temperature: 20.5},
		{Time: tomorrow, Temperature: 18.1},
		{Time: tomorrow.Add(6 * time.Hour), Temperature: 19.2},
		{Time: tomorrow.Add(6 * time.Hour), Temperature: 99},
		{Time: tomorrow.Add(12 * time.Hour), Temperature: 22.3},
		{Time: tomorrow.Add(18 * time.Hour), Temperature: 21.0},
		{Time: tomorrow.AddDate(0, 0, 1), Temperature: 50},
	}

	reading := buildSeaReading(5, samples, local, local)
	if reading.Current == nil || *reading.Current != 20.5 {
		t.Fatalf("ожидали текущую температуру 20.5, получили %+v", reading.Current)
	}
	if reading.Night == nil || *reading.Night != 18.1 {
		t.Fatalf("ожидали ночь 18.1")
	}
	if reading.Morning == nil || *reading.Morning != 19.2 {
		t.Fatalf("ожидали утро 19.2, повтор часа не учитывается")
	}
	if reading.Midday == nil || *reading.Midday != 22.3 {
		t.Fatalf("ожидали день 22.3")
	}
	if reading.Evening == nil || *reading.Evening != 21.0 {
		t.Fatalf("ожидали вечер 21.0")
	}
}

func TestBuildSeaReadingPartial(t *testing.T) {
	local := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)
	samples := []domain.SeaSample{
		{Time: local, Temperature: 20.5},
		{Time: time.Date(2024, time.July, 2, 6, 0, 0, 0, time.UTC), Temperature: 19.2},
	}

	reading := buildSeaReading(5, samples, local, local)
	if reading.Current == nil || reading.Morning == nil {
		t.Fatalf("ожидали текущую температуру и утро")
	}
	if reading.Midday != nil || reading.Evening != nil || reading.Night != nil {
		t.Fatalf("не ожидали остальных срезов: %+v", reading)
	}
}

func TestBuildSeaReadingEmptySeries(t *testing.T) {
	local := time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC)
	reading := buildSeaReading(5, nil, local, local)
	if reading.Current != nil {
		t.Fatalf("не ожидали текущей температуры без данных")
	}
	if !reading.UpdatedAt.Equal(local) {
		t.Fatalf("ожидали отметку времени обновления")
	}
}

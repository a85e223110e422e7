package weather

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-weather-bot/internal/domain"
)

func TestRenderTemplateFull(t *testing.T) {
	cur := 21.3
	snap := Snapshot{
		Hours: map[int64]domain.HourReading{
			2: {Temperature: 18.3, WeatherCode: 0, WindSpeed: 3.4, IsDay: true},
		},
		Seas: map[int64]domain.SeaReading{
			7: {Current: &cur},
		},
		Tomorrow: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC),
	}

	out, err := RenderTemplate("Воздух {2|temperature}, ветер {2|wind} м/с, вода {7|seatemperature}, завтра {next-day-date} {next-day-month}", snap)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	want := "Воздух ☀️ 18.3°C, ветер 3.4 м/с, вода \U0001F30A 21.3°C, завтра 01 марта"
	if out != want {
		t.Fatalf("ожидали %q, получили %q", want, out)
	}
}

func TestRenderTemplateNightEmoji(t *testing.T) {
	snap := Snapshot{Hours: map[int64]domain.HourReading{
		2: {Temperature: 5.0, WeatherCode: 0, IsDay: false},
	}}

	out, err := RenderTemplate("{2|temperature}", snap)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out != "\U0001F319 5.0°C" {
		t.Fatalf("ожидали месяц для ясной ночи, получили %q", out)
	}
}

func TestRenderTemplateMissingCity(t *testing.T) {
	_, err := RenderTemplate("{9|temperature}", Snapshot{})
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("ожидали ErrNoData, получили %v", err)
	}
}

func TestRenderTemplateSeaWithoutCurrent(t *testing.T) {
	snap := Snapshot{Seas: map[int64]domain.SeaReading{
		7: {SeaID: 7},
	}}

	_, err := RenderTemplate("{7|seatemperature}", snap)
	if !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("ожидали ErrNoData без текущей температуры, получили %v", err)
	}
}

func TestRenderTemplateUnknownField(t *testing.T) {
	snap := Snapshot{Hours: map[int64]domain.HourReading{
		2: {Temperature: 18.3},
	}}

	out, err := RenderTemplate("до{2|humidity}после", snap)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out != "допосле" {
		t.Fatalf("ожидали пустую подстановку, получили %q", out)
	}
}

func TestTemplateIDs(t *testing.T) {
	ids := TemplateIDs("{1|temperature} и {2|wind}, снова {1|seatemperature}, {x|мусор}")
	if len(ids) != 2 {
		t.Fatalf("ожидали два id, получили %v", ids)
	}
	if _, ok := ids[1]; !ok {
		t.Fatalf("ожидали id 1")
	}
	if _, ok := ids[2]; !ok {
		t.Fatalf("ожидали id 2")
	}
}

func TestWeatherEmoji(t *testing.T) {
	if got := WeatherEmoji(0, true); got != "☀️" {
		t.Fatalf("ожидали солнце, получили %q", got)
	}
	if got := WeatherEmoji(0, false); got != "\U0001F319" {
		t.Fatalf("ожидали месяц, получили %q", got)
	}
	if got := WeatherEmoji(1, true); got != "\U0001F324" {
		t.Fatalf("ожидали солнце за облаком, получили %q", got)
	}
	if got := WeatherEmoji(75, true); got != "❄️" {
		t.Fatalf("ожидали снег, получили %q", got)
	}
	if got := WeatherEmoji(95, true); got != "⛈️" {
		t.Fatalf("ожидали грозу, получили %q", got)
	}
	if got := WeatherEmoji(42, true); got != "" {
		t.Fatalf("ожидали пустую строку для неизвестного кода, получили %q", got)
	}
}

func TestBuildSnapshotLoadsTemplateIDs(t *testing.T) {
	cities := newStubCityRepo()
	cities.latest[1] = domain.HourReading{CityID: 1, Temperature: 7.5, WeatherCode: 3}
	seas := newStubSeaRepo()
	cur := 9.9
	seas.readings[2] = domain.SeaReading{SeaID: 2, Current: &cur}
	svc := NewService(cities, seas, &stubProvider{}, 0, zerolog.Nop())
	svc.nowFn = func() time.Time { return time.Date(2024, time.December, 31, 20, 0, 0, 0, time.UTC) }

	snap, err := svc.BuildSnapshot("{1|temperature} {2|seatemperature} {3|wind}")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if _, ok := snap.Hours[1]; !ok {
		t.Fatalf("ожидали показание города 1")
	}
	if _, ok := snap.Seas[2]; !ok {
		t.Fatalf("ожидали показание моря 2")
	}
	if _, ok := snap.Hours[3]; ok {
		t.Fatalf("не ожидали данных для города 3")
	}

	// граница года: завтра после 31 декабря — 1 января
	out, err := RenderTemplate("{next-day-date} {next-day-month}", snap)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out != "01 января" {
		t.Fatalf("ожидали 01 января, получили %q", out)
	}
}

func TestServiceRender(t *testing.T) {
	cities := newStubCityRepo()
	cities.latest[4] = domain.HourReading{CityID: 4, Temperature: 11.6, WeatherCode: 61, IsDay: true}
	svc := NewService(cities, newStubSeaRepo(), &stubProvider{}, 0, zerolog.Nop())
	svc.nowFn = func() time.Time { return time.Date(2024, time.May, 14, 10, 0, 0, 0, time.UTC) }

	out, err := svc.Render("Сейчас {4|temperature}")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if out != "Сейчас \U0001F327 11.6°C" {
		t.Fatalf("неожиданный рендер: %q", out)
	}
}

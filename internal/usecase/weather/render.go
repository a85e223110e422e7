package weather

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"tg-weather-bot/internal/domain"
)

var (
	tokenRe = regexp.MustCompile(`\{(\d+)\|(\w+)\}`)
	idRe    = regexp.MustCompile(`\{(\d+)\|`)
)

// wmoEmoji сопоставляет коды WMO пиктограммам условий.
var wmoEmoji = map[int]string{
	0:  "☀️",
	1:  "\U0001F324",
	2:  "⛅",
	3:  "☁️",
	45: "\U0001F32B",
	48: "\U0001F32B",
	51: "\U0001F327",
	53: "\U0001F327",
	55: "\U0001F327",
	61: "\U0001F327",
	63: "\U0001F327",
	65: "\U0001F327",
	71: "❄️",
	73: "❄️",
	75: "❄️",
	80: "\U0001F327",
	81: "\U0001F327",
	82: "\U0001F327",
	95: "⛈️",
	96: "⛈️",
	99: "⛈️",
}

// seaEmoji ставится перед температурой воды.
const seaEmoji = "\U0001F30A"

// WeatherEmoji возвращает пиктограмму погодных условий. Ясное небо
// ночью отображается месяцем.
func WeatherEmoji(code int, isDay bool) string {
	if code == 0 && !isDay {
		return "\U0001F319"
	}
	return wmoEmoji[code]
}

// SeaEmoji возвращает пиктограмму температуры воды.
func SeaEmoji() string {
	return seaEmoji
}

// genitiveMonths содержит названия месяцев в родительном падеже для
// подстановки после числа.
var genitiveMonths = [...]string{
	"января", "февраля", "марта", "апреля", "мая", "июня",
	"июля", "августа", "сентября", "октября", "ноября", "декабря",
}

// Snapshot содержит показания, нужные для подстановки в шаблоны.
// Поля с отсутствующими данными просто не входят в карты.
type Snapshot struct {
	Hours    map[int64]domain.HourReading
	Seas     map[int64]domain.SeaReading
	Tomorrow time.Time
}

// TemplateIDs возвращает множество id точек, на которые ссылается шаблон.
func TemplateIDs(template string) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, m := range idRe.FindAllStringSubmatch(template, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}

// RenderTemplate подставляет кэшированные показания в шаблон. Если хоть
// одна точка шаблона осталась без данных, рендер целиком неуспешен:
// лучше оставить старый текст, чем опубликовать дыры.
func RenderTemplate(template string, snap Snapshot) (string, error) {
	var missing error
	out := tokenRe.ReplaceAllStringFunc(template, func(token string) string {
		m := tokenRe.FindStringSubmatch(token)
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return ""
		}
		switch m[2] {
		case "seatemperature":
			sea, ok := snap.Seas[id]
			if !ok || sea.Current == nil {
				missing = fmt.Errorf("%w: море %d", domain.ErrNoData, id)
				return ""
			}
			return fmt.Sprintf("%s %.1f°C", seaEmoji, *sea.Current)
		case "temperature":
			hour, ok := snap.Hours[id]
			if !ok {
				missing = fmt.Errorf("%w: город %d", domain.ErrNoData, id)
				return ""
			}
			return fmt.Sprintf("%s %.1f°C", WeatherEmoji(hour.WeatherCode, hour.IsDay), hour.Temperature)
		case "wind":
			hour, ok := snap.Hours[id]
			if !ok {
				missing = fmt.Errorf("%w: город %d", domain.ErrNoData, id)
				return ""
			}
			return fmt.Sprintf("%.1f", hour.WindSpeed)
		}
		return ""
	})
	if missing != nil {
		return "", missing
	}
	out = strings.ReplaceAll(out, "{next-day-date}", snap.Tomorrow.Format("02"))
	out = strings.ReplaceAll(out, "{next-day-month}", genitiveMonths[snap.Tomorrow.Month()-1])
	return out, nil
}

// BuildSnapshot загружает показания для всех id из переданных шаблонов.
// Города и моря делят одно числовое пространство id, поэтому для каждого
// id проверяются оба кэша, а поле токена решает, какой из них нужен.
func (s *Service) BuildSnapshot(templates ...string) (Snapshot, error) {
	snap := Snapshot{
		Hours:    make(map[int64]domain.HourReading),
		Seas:     make(map[int64]domain.SeaReading),
		Tomorrow: s.localNow(s.nowFn().UTC()).AddDate(0, 0, 1),
	}
	for _, template := range templates {
		for id := range TemplateIDs(template) {
			if _, ok := snap.Hours[id]; !ok {
				hour, err := s.cities.LatestHourReading(id)
				switch {
				case err == nil:
					snap.Hours[id] = hour
				case !errors.Is(err, domain.ErrNotFound):
					return Snapshot{}, fmt.Errorf("кэш погоды %d: %w", id, err)
				}
			}
			if _, ok := snap.Seas[id]; !ok {
				sea, err := s.seas.GetSeaReading(id)
				switch {
				case err == nil:
					snap.Seas[id] = sea
				case !errors.Is(err, domain.ErrNotFound):
					return Snapshot{}, fmt.Errorf("кэш моря %d: %w", id, err)
				}
			}
		}
	}
	return snap, nil
}

// Render загружает данные и рендерит один шаблон.
func (s *Service) Render(template string) (string, error) {
	snap, err := s.BuildSnapshot(template)
	if err != nil {
		return "", err
	}
	return RenderTemplate(template, snap)
}

package bot

import (
	"errors"
	"strings"
	"testing"
	"time"

	"tg-weather-bot/internal/domain"
)

func TestParseOffset(t *testing.T) {
	off, err := ParseOffset("+03:00")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if off != 3*time.Hour {
		t.Fatalf("expected 3h, got %s", off)
	}
	off, err = ParseOffset("-05:30")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if off != -(5*time.Hour + 30*time.Minute) {
		t.Fatalf("expected -5h30m, got %s", off)
	}
}

func TestParseOffsetInvalid(t *testing.T) {
	for _, bad := range []string{"0300", "+03:75", "+aa:bb", ""} {
		if _, err := ParseOffset(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseTimeInputToday(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	at, err := ParseTimeInput("15:04", "+03:00", now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := time.Date(2024, 5, 1, 12, 4, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("expected %s, got %s", want, at)
	}
}

func TestParseTimeInputNextLocalDay(t *testing.T) {
	// по UTC ещё 1 мая, по времени оператора уже 2 мая
	now := time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC)
	at, err := ParseTimeInput("02:00", "+03:00", now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("expected %s, got %s", want, at)
	}
}

func TestParseTimeInputFullDate(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	at, err := ParseTimeInput("02.06.2024 09:30", "+02:00", now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := time.Date(2024, 6, 2, 7, 30, 0, 0, time.UTC)
	if !at.Equal(want) {
		t.Fatalf("expected %s, got %s", want, at)
	}
}

func TestParseTimeInputPast(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if _, err := ParseTimeInput("12:00", "+03:00", now); !errors.Is(err, ErrPastTime) {
		t.Fatalf("expected ErrPastTime, got %v", err)
	}
	if _, err := ParseTimeInput("30.04.2024 12:00", "+03:00", now); !errors.Is(err, ErrPastTime) {
		t.Fatalf("expected ErrPastTime, got %v", err)
	}
}

func TestParseTimeInputBadFormat(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for _, bad := range []string{"25:99", "завтра", "12-00", "01.02 09:00"} {
		if _, err := ParseTimeInput(bad, "+03:00", now); !errors.Is(err, ErrBadTime) {
			t.Fatalf("expected ErrBadTime for %q, got %v", bad, err)
		}
	}
}

func TestFormatTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 4, 0, 0, time.UTC)
	if got := FormatTime(at, "+03:00"); got != "15:04 01.05.2024" {
		t.Fatalf("expected 15:04 01.05.2024, got %s", got)
	}
	// некорректное смещение откатывается на UTC
	if got := FormatTime(at, "junk"); got != "12:04 01.05.2024" {
		t.Fatalf("expected 12:04 01.05.2024, got %s", got)
	}
}

func TestParseID(t *testing.T) {
	if id := parseID("approve:42"); id != 42 {
		t.Fatalf("expected 42, got %d", id)
	}
	if id := parseID("chdone"); id != 0 {
		t.Fatalf("expected 0 for data without id, got %d", id)
	}
	if id := parseID("a:b:c"); id != 0 {
		t.Fatalf("expected 0 for three parts, got %d", id)
	}
}

func TestParseRef(t *testing.T) {
	ref, ok := parseRef("wpost_del:-1001234:55")
	if !ok {
		t.Fatal("expected ok")
	}
	if ref.ChatID != -1001234 || ref.MessageID != 55 {
		t.Fatalf("unexpected ref %+v", ref)
	}
	if _, ok := parseRef("wpost_del:55"); ok {
		t.Fatal("expected not ok for two parts")
	}
	if _, ok := parseRef("wpost_del:x:y"); ok {
		t.Fatal("expected not ok for non-numeric parts")
	}
}

func TestParseCoords(t *testing.T) {
	lat, lon, ok := parseCoords("44.6166, 33.5254")
	if !ok || lat != 44.6166 || lon != 33.5254 {
		t.Fatalf("unexpected result %v %v %v", lat, lon, ok)
	}
	if _, _, ok := parseCoords("44.6166 33.5254"); !ok {
		t.Fatal("expected space separator to work")
	}
	if _, _, ok := parseCoords("44.6166"); ok {
		t.Fatal("expected not ok for single value")
	}
	if _, _, ok := parseCoords("x y"); ok {
		t.Fatal("expected not ok for non-numeric values")
	}
}

func TestToggleChannel(t *testing.T) {
	h := &Handler{sessions: make(map[int64]sessionState)}
	h.sessions[1] = &awaitChannels{Source: domain.MessageRef{ChatID: -10, MessageID: 5}, Selected: make(map[int64]bool)}

	h.toggleChannel(1, -100)
	state := h.sessions[1].(*awaitChannels)
	if !state.Selected[-100] {
		t.Fatal("expected channel selected after first toggle")
	}
	h.toggleChannel(1, -100)
	if len(state.Selected) != 0 {
		t.Fatal("expected channel deselected after second toggle")
	}

	// выбор работает и после перехода к вводу времени
	h.sessions[1] = &awaitTime{Source: state.Source, Selected: state.Selected}
	h.toggleChannel(1, -200)
	if !h.sessions[1].(*awaitTime).Selected[-200] {
		t.Fatal("expected toggle to reach awaitTime state")
	}

	// без открытого диалога и с нулевым id ничего не меняется
	h.toggleChannel(2, -100)
	h.toggleChannel(1, 0)
	if len(h.sessions) != 1 {
		t.Fatalf("expected one session, got %d", len(h.sessions))
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := &Handler{sessions: make(map[int64]sessionState)}
	h.setSession(7, &awaitReschedule{ScheduleID: 3})
	state, ok := h.getSession(7).(*awaitReschedule)
	if !ok || state.ScheduleID != 3 {
		t.Fatalf("unexpected session %+v", h.getSession(7))
	}
	// новый диалог перезаписывает старый
	h.setSession(7, &awaitAssetChannel{})
	if _, ok := h.getSession(7).(*awaitAssetChannel); !ok {
		t.Fatal("expected session replaced")
	}
	h.clearSession(7)
	if h.getSession(7) != nil {
		t.Fatal("expected session cleared")
	}
}

func TestBuildStartMessage(t *testing.T) {
	plain := buildStartMessage(false)
	admin := buildStartMessage(true)
	if plain == admin {
		t.Fatal("expected superadmin greeting to differ")
	}
	if !strings.Contains(admin, "/pending") || strings.Contains(plain, "/pending") {
		t.Fatal("expected /pending only in superadmin greeting")
	}
}

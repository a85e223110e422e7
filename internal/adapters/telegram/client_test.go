package telegram

import (
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"tg-weather-bot/internal/domain"
)

func TestClassifyNotFound(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 400, Message: "Bad Request: message to forward not found"})

	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("ожидалась транспортная ошибка, получено %v", err)
	}
	if transportErr.Class != domain.TransportErrNotFound {
		t.Fatalf("ожидался класс not_found, получен %v", transportErr.Class)
	}
	if !domain.IsTransportNotFound(err) {
		t.Fatalf("IsTransportNotFound должен распознавать ошибку")
	}
}

func TestClassifyForbidden(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was kicked from the channel chat"})

	if !domain.IsTransportForbidden(err) {
		t.Fatalf("ожидался класс forbidden, получено %v", err)
	}
	if domain.IsTransportNotFound(err) {
		t.Fatalf("ошибка 403 не должна считаться not_found")
	}
}

func TestClassifyOther(t *testing.T) {
	err := classify(&tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"})

	var transportErr *domain.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("ожидалась транспортная ошибка, получено %v", err)
	}
	if transportErr.Class != domain.TransportErrOther {
		t.Fatalf("ожидался класс other, получен %v", transportErr.Class)
	}
}

func TestClassifyPassesThroughPlainErrors(t *testing.T) {
	plain := errors.New("dial tcp: timeout")
	if got := classify(plain); !errors.Is(got, plain) {
		t.Fatalf("обычная ошибка должна проходить без изменений, получено %v", got)
	}
	if classify(nil) != nil {
		t.Fatalf("nil должен оставаться nil")
	}
}

func TestParseShareLinkInternal(t *testing.T) {
	ref, alias, err := ParseShareLink("https://t.me/c/2169952/55")
	if err != nil {
		t.Fatalf("ошибка разбора внутренней ссылки: %v", err)
	}
	if alias != "" {
		t.Fatalf("внутренняя ссылка не требует разрешения алиаса, получен %q", alias)
	}
	if ref.ChatID != -1002169952 {
		t.Fatalf("ожидался чат -1002169952, получен %d", ref.ChatID)
	}
	if ref.MessageID != 55 {
		t.Fatalf("ожидалось сообщение 55, получено %d", ref.MessageID)
	}
}

func TestParseShareLinkPublic(t *testing.T) {
	ref, alias, err := ParseShareLink("https://t.me/weather_channel/123")
	if err != nil {
		t.Fatalf("ошибка разбора публичной ссылки: %v", err)
	}
	if alias != "weather_channel" {
		t.Fatalf("ожидался алиас weather_channel, получен %q", alias)
	}
	if ref.MessageID != 123 {
		t.Fatalf("ожидалось сообщение 123, получено %d", ref.MessageID)
	}
	if ref.ChatID != 0 {
		t.Fatalf("чат должен разрешаться позже, получен %d", ref.ChatID)
	}
}

func TestParseShareLinkGarbage(t *testing.T) {
	if _, _, err := ParseShareLink("просто текст"); err == nil {
		t.Fatalf("ожидалась ошибка для нераспознанной ссылки")
	}
}

func TestMarkupRoundTrip(t *testing.T) {
	original := &domain.Markup{InlineKeyboard: [][]domain.Button{
		{{Text: "Погода", URL: "https://t.me/ch/10"}},
		{{Text: "Отмена", CallbackData: "cancel:1"}},
	}}

	api := markupToAPI(original)
	if api == nil || len(api.InlineKeyboard) != 2 {
		t.Fatalf("неожиданная клавиатура: %+v", api)
	}

	back := markupFromAPI(api)
	if back == nil || len(back.InlineKeyboard) != 2 {
		t.Fatalf("обратное преобразование потеряло ряды: %+v", back)
	}
	if back.InlineKeyboard[0][0].URL != "https://t.me/ch/10" {
		t.Fatalf("потерян URL кнопки: %+v", back.InlineKeyboard[0][0])
	}
	if back.InlineKeyboard[1][0].CallbackData != "cancel:1" {
		t.Fatalf("потеряны callback-данные: %+v", back.InlineKeyboard[1][0])
	}
}

func TestMarkupNil(t *testing.T) {
	if markupToAPI(nil) != nil {
		t.Fatalf("nil-клавиатура должна оставаться nil")
	}
	if markupFromAPI(nil) != nil {
		t.Fatalf("nil-клавиатура должна оставаться nil")
	}
}

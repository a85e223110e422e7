package telegram

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
)

// Client оборачивает Bot API для бизнес-логики. Ошибки Bot API
// классифицируются здесь и дальше передаются как domain.TransportError.
type Client struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

var _ domain.Messenger = (*Client)(nil)

// NewClient создаёт обёртку над Bot API.
func NewClient(api *tgbotapi.BotAPI, log zerolog.Logger) *Client {
	return &Client{api: api, log: log}
}

// API возвращает низкоуровневый клиент для обработчика команд.
func (c *Client) API() *tgbotapi.BotAPI {
	return c.api
}

// SendText отправляет текстовое сообщение и возвращает его id.
func (c *Client) SendText(ctx context.Context, chatID int64, text string) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	start := time.Now()
	sent, err := c.api.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
	if err != nil {
		return 0, classify(err)
	}
	return int64(sent.MessageID), nil
}

// Forward пересылает сообщение и возвращает копию с текстом и клавиатурой.
func (c *Client) Forward(ctx context.Context, toChatID, fromChatID, messageID int64) (domain.ForwardedMessage, error) {
	cfg := tgbotapi.NewForward(toChatID, fromChatID, int(messageID))
	start := time.Now()
	sent, err := c.api.Send(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "forward_message", strconv.FormatInt(toChatID, 10), start, err)
	if err != nil {
		return domain.ForwardedMessage{}, classify(err)
	}
	return domain.ForwardedMessage{
		MessageID: int64(sent.MessageID),
		Text:      sent.Text,
		Caption:   sent.Caption,
		Markup:    markupFromAPI(sent.ReplyMarkup),
	}, nil
}

// Copy копирует сообщение без ссылки на источник. Пустая подпись
// оставляет подпись оригинала.
func (c *Client) Copy(ctx context.Context, toChatID, fromChatID, messageID int64, caption string) (int64, error) {
	cfg := tgbotapi.NewCopyMessage(toChatID, fromChatID, int(messageID))
	if caption != "" {
		cfg.Caption = TrimCaption(caption)
	}
	start := time.Now()
	res, err := c.api.CopyMessage(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "copy_message", strconv.FormatInt(toChatID, 10), start, err)
	if err != nil {
		return 0, classify(err)
	}
	return int64(res.MessageID), nil
}

// Delete удаляет сообщение.
func (c *Client) Delete(ctx context.Context, chatID, messageID int64) error {
	cfg := tgbotapi.NewDeleteMessage(chatID, int(messageID))
	start := time.Now()
	_, err := c.api.Request(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "delete_message", strconv.FormatInt(chatID, 10), start, err)
	return classify(err)
}

// EditText заменяет текст сообщения, сохраняя переданную клавиатуру.
func (c *Client) EditText(ctx context.Context, chatID, messageID int64, text string, markup *domain.Markup) error {
	cfg := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	cfg.ReplyMarkup = markupToAPI(markup)
	start := time.Now()
	_, err := c.api.Send(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message_text", strconv.FormatInt(chatID, 10), start, err)
	return classify(err)
}

// EditCaption заменяет подпись сообщения, сохраняя переданную клавиатуру.
func (c *Client) EditCaption(ctx context.Context, chatID, messageID int64, caption string, markup *domain.Markup) error {
	cfg := tgbotapi.NewEditMessageCaption(chatID, int(messageID), TrimCaption(caption))
	cfg.ReplyMarkup = markupToAPI(markup)
	start := time.Now()
	_, err := c.api.Send(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message_caption", strconv.FormatInt(chatID, 10), start, err)
	return classify(err)
}

// EditMarkup заменяет клавиатуру сообщения. Nil очищает клавиатуру.
func (c *Client) EditMarkup(ctx context.Context, chatID, messageID int64, markup *domain.Markup) error {
	api := markupToAPI(markup)
	if api == nil {
		api = &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}
	cfg := tgbotapi.NewEditMessageReplyMarkup(chatID, int(messageID), *api)
	start := time.Now()
	_, err := c.api.Send(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_message_markup", strconv.FormatInt(chatID, 10), start, err)
	return classify(err)
}

// SetWebhook регистрирует вебхук бота.
func (c *Client) SetWebhook(webhookURL string) error {
	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("создание вебхука: %w", err)
	}
	start := time.Now()
	_, err = c.api.Request(wh)
	metrics.ObserveNetworkRequest("telegram_bot", "set_webhook", "webhook", start, err)
	return classify(err)
}

var (
	reInternalLink = regexp.MustCompile(`/c/(\d+)/(\d+)`)
	rePublicLink   = regexp.MustCompile(`t\.me/([^/\s]+)/(\d+)`)
)

// ParseShareLink разбирает ссылку на пост. Для публичных ссылок
// возвращает алиас канала, который нужно разрешить через Bot API.
func ParseShareLink(link string) (ref domain.MessageRef, alias string, err error) {
	if m := reInternalLink.FindStringSubmatch(link); m != nil {
		chatID, parseErr := strconv.ParseInt("-100"+m[1], 10, 64)
		if parseErr != nil {
			return domain.MessageRef{}, "", parseErr
		}
		messageID, parseErr := strconv.ParseInt(m[2], 10, 64)
		if parseErr != nil {
			return domain.MessageRef{}, "", parseErr
		}
		return domain.MessageRef{ChatID: chatID, MessageID: messageID}, "", nil
	}
	if m := rePublicLink.FindStringSubmatch(link); m != nil {
		messageID, parseErr := strconv.ParseInt(m[2], 10, 64)
		if parseErr != nil {
			return domain.MessageRef{}, "", parseErr
		}
		return domain.MessageRef{MessageID: messageID}, m[1], nil
	}
	return domain.MessageRef{}, "", fmt.Errorf("не удалось распознать ссылку на пост")
}

// ResolveShareLink превращает ссылку вида t.me/c/<id>/<msg> или
// t.me/<alias>/<msg> в пару (чат, сообщение).
func (c *Client) ResolveShareLink(ctx context.Context, link string) (domain.MessageRef, error) {
	ref, alias, err := ParseShareLink(link)
	if err != nil {
		return domain.MessageRef{}, err
	}
	if alias == "" {
		return ref, nil
	}
	cfg := tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{SuperGroupUsername: "@" + alias}}
	start := time.Now()
	chat, err := c.api.GetChat(cfg)
	metrics.ObserveNetworkRequest("telegram_bot", "get_chat", alias, start, err)
	if err != nil {
		return domain.MessageRef{}, classify(err)
	}
	ref.ChatID = chat.ID
	return ref, nil
}

// classify присваивает ошибке Bot API класс доставки.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	class := domain.TransportErrOther
	switch {
	case apiErr.Code == 403:
		class = domain.TransportErrForbidden
	case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "not found"):
		class = domain.TransportErrNotFound
	}
	return &domain.TransportError{Class: class, Code: apiErr.Code, Description: apiErr.Message}
}

func markupToAPI(m *domain.Markup) *tgbotapi.InlineKeyboardMarkup {
	if m == nil || len(m.InlineKeyboard) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(m.InlineKeyboard))
	for _, row := range m.InlineKeyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			switch {
			case btn.URL != "":
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(btn.Text, btn.URL))
			default:
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(btn.Text, btn.CallbackData))
			}
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func markupFromAPI(m *tgbotapi.InlineKeyboardMarkup) *domain.Markup {
	if m == nil || len(m.InlineKeyboard) == 0 {
		return nil
	}
	rows := make([][]domain.Button, 0, len(m.InlineKeyboard))
	for _, row := range m.InlineKeyboard {
		buttons := make([]domain.Button, 0, len(row))
		for _, btn := range row {
			converted := domain.Button{Text: btn.Text}
			if btn.URL != nil {
				converted.URL = *btn.URL
			}
			if btn.CallbackData != nil {
				converted.CallbackData = *btn.CallbackData
			}
			buttons = append(buttons, converted)
		}
		rows = append(rows, buttons)
	}
	return &domain.Markup{InlineKeyboard: rows}
}

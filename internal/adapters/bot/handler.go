package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-weather-bot/internal/adapters/telegram"
	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
	"tg-weather-bot/internal/usecase/posts"
	"tg-weather-bot/internal/usecase/schedule"
	"tg-weather-bot/internal/usecase/weather"
)

const (
	pendingLimit    = 10
	historyLimit    = 10
	defaultPostTime = "17:55"
)

var hashtagRe = regexp.MustCompile(`#\S+`)

// sessionState описывает текущий шаг диалога оператора. У оператора
// открыт максимум один диалог, новый перезаписывает старый.
type sessionState interface{ sessionStep() }

// awaitChannels — идёт выбор целевых каналов для пересланного поста.
type awaitChannels struct {
	Source   domain.MessageRef
	Selected map[int64]bool
}

// awaitTime — каналы выбраны, ожидается время публикации.
type awaitTime struct {
	Source   domain.MessageRef
	Selected map[int64]bool
}

// awaitReschedule — ожидается новое время существующей задачи.
type awaitReschedule struct{ ScheduleID int64 }

// awaitWeatherChannel — идёт выбор канала ежедневной автопубликации.
type awaitWeatherChannel struct{}

// awaitWeatherTime — канал выбран; Manual открывает ввод времени текстом.
type awaitWeatherTime struct {
	ChannelID int64
	Manual    bool
}

// awaitAssetChannel — идёт выбор канала заготовок.
type awaitAssetChannel struct{}

func (*awaitChannels) sessionStep()       {}
func (*awaitTime) sessionStep()           {}
func (*awaitReschedule) sessionStep()     {}
func (*awaitWeatherChannel) sessionStep() {}
func (*awaitWeatherTime) sessionStep()    {}
func (*awaitAssetChannel) sessionStep()   {}

// Handler обслуживает вебхук бота.
type Handler struct {
	bot        *tgbotapi.BotAPI
	log        zerolog.Logger
	tg         *telegram.Client
	users      domain.UserRepo
	channels   domain.ChannelRepo
	assets     domain.AssetRepo
	settings   domain.SettingsRepo
	weatherUC  *weather.Service
	postsUC    *posts.Service
	scheduleUC *schedule.Service
	defaultTZ  string

	mu       sync.Mutex
	sessions map[int64]sessionState
}

// NewHandler создаёт обработчик.
func NewHandler(bot *tgbotapi.BotAPI, log zerolog.Logger, tg *telegram.Client, users domain.UserRepo, channels domain.ChannelRepo, assets domain.AssetRepo, settings domain.SettingsRepo, weatherUC *weather.Service, postsUC *posts.Service, scheduleUC *schedule.Service, defaultTZ string) *Handler {
	return &Handler{
		bot:        bot,
		log:        log,
		tg:         tg,
		users:      users,
		channels:   channels,
		assets:     assets,
		settings:   settings,
		weatherUC:  weatherUC,
		postsUC:    postsUC,
		scheduleUC: scheduleUC,
		defaultTZ:  defaultTZ,
		sessions:   make(map[int64]sessionState),
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	case upd.ChannelPost != nil:
		h.handleMessage(ctx, upd.ChannelPost)
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	case upd.MyChatMember != nil:
		h.handleMyChatMember(upd.MyChatMember)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if h.ingestAsset(msg) {
		return
	}
	if msg.From == nil || msg.Chat == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	if text != "" && !strings.HasPrefix(text, "/") {
		if h.handleSessionInput(ctx, chatID, userID, text) {
			return
		}
	}

	switch {
	case strings.HasPrefix(text, "/start"):
		h.handleStart(chatID, msg.From)
	case strings.HasPrefix(text, "/add_user"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleAddUser(chatID, strings.Fields(text))
		}
	case strings.HasPrefix(text, "/remove_user"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleRemoveUser(chatID, strings.Fields(text))
		}
	case strings.HasPrefix(text, "/list_weather_channels"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleListWeatherChannels(chatID, userID)
		}
	case strings.HasPrefix(text, "/list_users"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleListUsers(chatID)
		}
	case strings.HasPrefix(text, "/pending"):
		if h.requireSuperadmin(chatID, userID) {
			h.handlePending(chatID, userID)
		}
	case strings.HasPrefix(text, "/approve"):
		if h.requireSuperadmin(chatID, userID) {
			if uid, ok := parseUserArg(text); ok {
				h.approveUser(chatID, uid)
			} else {
				h.reply(chatID, "Формат: /approve <id>", nil)
			}
		}
	case strings.HasPrefix(text, "/reject"):
		if h.requireSuperadmin(chatID, userID) {
			if uid, ok := parseUserArg(text); ok {
				h.rejectUser(chatID, uid)
			} else {
				h.reply(chatID, "Формат: /reject <id>", nil)
			}
		}
	case strings.HasPrefix(text, "/tz"):
		if h.requireAuthorized(chatID, userID) {
			h.handleTZ(chatID, userID, strings.Fields(text))
		}
	case strings.HasPrefix(text, "/channels"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleChannels(chatID)
		}
	case strings.HasPrefix(text, "/history"):
		if h.requireAuthorized(chatID, userID) {
			h.handleHistory(chatID, userID)
		}
	case strings.HasPrefix(text, "/scheduled"):
		if h.requireAuthorized(chatID, userID) {
			h.handleScheduled(ctx, chatID, userID)
		}
	case strings.HasPrefix(text, "/addbutton"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleAddButton(ctx, chatID, strings.Fields(text))
		}
	case strings.HasPrefix(text, "/delbutton"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleDelButton(ctx, chatID, strings.Fields(text))
		}
	case strings.HasPrefix(text, "/addweatherbutton"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleAddWeatherButton(ctx, chatID, strings.Fields(text))
		}
	case strings.HasPrefix(text, "/addcity"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleAddCity(chatID, text)
		}
	case strings.HasPrefix(text, "/addsea"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleAddSea(chatID, text)
		}
	case strings.HasPrefix(text, "/cities"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleCities(chatID)
		}
	case strings.HasPrefix(text, "/seas"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleSeas(chatID)
		}
	case strings.HasPrefix(text, "/weatherposts"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleWeatherPosts(ctx, chatID, strings.Fields(text))
		}
	case strings.HasPrefix(text, "/regweather"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleRegWeather(ctx, chatID, text)
		}
	case strings.HasPrefix(text, "/setup_weather"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleSetupWeather(chatID, userID)
		}
	case strings.HasPrefix(text, "/set_assets_channel"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleSetAssetsChannel(chatID, userID)
		}
	case strings.HasPrefix(text, "/weather"):
		if h.requireSuperadmin(chatID, userID) {
			h.handleWeather(ctx, chatID, strings.Fields(text))
		}
	default:
		h.handleFallback(chatID, userID, msg)
	}
}

// ingestAsset добавляет пост из канала заготовок в пул автопубликаций.
func (h *Handler) ingestAsset(msg *tgbotapi.Message) bool {
	if msg.Chat == nil {
		return false
	}
	assetChannel, err := h.settings.GetAssetChannel()
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			h.log.Error().Err(err).Msg("не удалось получить канал заготовок")
		}
		return false
	}
	if msg.Chat.ID != assetChannel {
		return false
	}
	caption := msg.Caption
	if caption == "" {
		caption = msg.Text
	}
	asset := domain.Asset{
		MessageID: int64(msg.MessageID),
		Hashtags:  hashtagRe.FindAllString(caption, -1),
		Template:  caption,
	}
	if err := h.assets.AddAsset(asset); err != nil {
		h.log.Error().Err(err).Int64("message_id", asset.MessageID).Msg("не удалось сохранить заготовку")
		return true
	}
	h.log.Info().Int64("message_id", asset.MessageID).Strs("hashtags", asset.Hashtags).Msg("заготовка добавлена")
	return true
}

func (h *Handler) handleStart(chatID int64, from *tgbotapi.User) {
	userID := from.ID
	switch user, err := h.users.GetUser(userID); {
	case err == nil:
		h.reply(chatID, buildStartMessage(user.IsSuperadmin), nil)
		return
	case !errors.Is(err, domain.ErrNotFound):
		h.log.Error().Err(err).Int64("user_id", userID).Msg("не удалось проверить пользователя")
		h.reply(chatID, "Не удалось проверить доступ, попробуйте позже", nil)
		return
	}

	rejected, err := h.users.IsRejected(userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("не удалось проверить отказы")
		h.reply(chatID, "Не удалось проверить доступ, попробуйте позже", nil)
		return
	}
	if rejected {
		h.reply(chatID, "Доступ запрещён администратором", nil)
		return
	}

	pending, err := h.users.IsPending(userID)
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("не удалось проверить очередь")
		h.reply(chatID, "Не удалось проверить доступ, попробуйте позже", nil)
		return
	}
	if pending {
		h.reply(chatID, "Заявка уже ожидает одобрения", nil)
		return
	}

	count, err := h.users.CountUsers()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось посчитать пользователей")
		h.reply(chatID, "Не удалось проверить доступ, попробуйте позже", nil)
		return
	}
	if count == 0 {
		user := domain.User{ID: userID, Username: from.UserName, IsSuperadmin: true, TZOffset: h.defaultTZ}
		if err := h.users.CreateUser(user); err != nil {
			h.log.Error().Err(err).Int64("user_id", userID).Msg("не удалось зарегистрировать суперадмина")
			h.reply(chatID, "Не удалось зарегистрироваться, попробуйте позже", nil)
			return
		}
		h.log.Info().Int64("user_id", userID).Msg("зарегистрирован суперадмин")
		h.reply(chatID, "Вы суперадмин", nil)
		return
	}

	queued, err := h.users.CountPending()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось посчитать очередь")
		h.reply(chatID, "Не удалось зарегистрироваться, попробуйте позже", nil)
		return
	}
	if queued >= pendingLimit {
		h.log.Info().Int64("user_id", userID).Msg("очередь регистрации заполнена")
		h.reply(chatID, "Очередь регистрации заполнена, попробуйте позже", nil)
		return
	}

	req := domain.PendingUser{ID: userID, Username: from.UserName, RequestedAt: time.Now().UTC()}
	if err := h.users.AddPending(req); err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("не удалось добавить заявку")
		h.reply(chatID, "Не удалось зарегистрироваться, попробуйте позже", nil)
		return
	}
	h.log.Info().Int64("user_id", userID).Msg("заявка добавлена в очередь")
	h.notifySuperadmins(userID, from.UserName)
	h.reply(chatID, "Заявка отправлена на одобрение", nil)
}

func (h *Handler) notifySuperadmins(userID int64, username string) {
	admins, err := h.users.ListSuperadmins()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить суперадминов")
		return
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Одобрить", fmt.Sprintf("approve:%d", userID)),
		tgbotapi.NewInlineKeyboardButtonData("Отклонить", fmt.Sprintf("reject:%d", userID)),
	))
	for _, admin := range admins {
		h.reply(admin.ID, fmt.Sprintf("Новая заявка на доступ: %s", formatUser(userID, username)), &markup)
	}
}

func (h *Handler) handleAddUser(chatID int64, args []string) {
	if len(args) != 2 {
		h.reply(chatID, "Формат: /add_user <id>", nil)
		return
	}
	uid, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		h.reply(chatID, "Некорректный id", nil)
		return
	}
	if _, err := h.users.GetUser(uid); err == nil {
		h.reply(chatID, "Пользователь уже добавлен", nil)
		return
	}
	if err := h.users.CreateUser(domain.User{ID: uid}); err != nil {
		h.log.Error().Err(err).Int64("user_id", uid).Msg("не удалось добавить пользователя")
		h.reply(chatID, "Не удалось добавить пользователя", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Пользователь %d добавлен", uid), nil)
}

func (h *Handler) handleRemoveUser(chatID int64, args []string) {
	if len(args) != 2 {
		h.reply(chatID, "Формат: /remove_user <id>", nil)
		return
	}
	uid, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		h.reply(chatID, "Некорректный id", nil)
		return
	}
	switch err := h.users.DeleteUser(uid); {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Пользователь не найден", nil)
	case err != nil:
		h.log.Error().Err(err).Int64("user_id", uid).Msg("не удалось удалить пользователя")
		h.reply(chatID, "Не удалось удалить пользователя", nil)
	default:
		h.reply(chatID, fmt.Sprintf("Пользователь %d удалён", uid), nil)
	}
}

func (h *Handler) handleTZ(chatID, userID int64, args []string) {
	if len(args) != 2 {
		h.reply(chatID, "Формат: /tz +02:00", nil)
		return
	}
	if _, err := ParseOffset(args[1]); err != nil {
		h.reply(chatID, "Некорректное смещение", nil)
		return
	}
	if err := h.users.UpdateTZOffset(userID, args[1]); err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("не удалось сохранить смещение")
		h.reply(chatID, "Не удалось сохранить смещение", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Часовой пояс: %s", args[1]), nil)
}

func (h *Handler) handleListUsers(chatID int64) {
	users, err := h.users.ListUsers()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить пользователей")
		h.reply(chatID, "Не удалось получить пользователей", nil)
		return
	}
	if len(users) == 0 {
		h.reply(chatID, "Пользователей нет", nil)
		return
	}
	lines := make([]string, 0, len(users))
	for _, u := range users {
		line := formatUser(u.ID, u.Username)
		if u.IsSuperadmin {
			line += " (админ)"
		}
		lines = append(lines, line)
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handlePending(chatID, userID int64) {
	rows, err := h.users.ListPendingUsers()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить очередь")
		h.reply(chatID, "Не удалось получить очередь", nil)
		return
	}
	if len(rows) == 0 {
		h.reply(chatID, "Заявок нет", nil)
		return
	}
	offset := h.tzOffset(userID)
	lines := make([]string, 0, len(rows))
	keyboard := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s, заявка от %s", formatUser(r.ID, r.Username), FormatTime(r.RequestedAt, offset)))
		keyboard = append(keyboard, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Одобрить", fmt.Sprintf("approve:%d", r.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Отклонить", fmt.Sprintf("reject:%d", r.ID)),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(keyboard...)
	h.reply(chatID, strings.Join(lines, "\n"), &markup)
}

func (h *Handler) approveUser(chatID, uid int64) {
	approved, err := h.users.ApprovePending(uid)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Пользователь не найден в очереди", nil)
		return
	case err != nil:
		h.log.Error().Err(err).Int64("user_id", uid).Msg("не удалось одобрить заявку")
		h.reply(chatID, "Не удалось одобрить заявку", nil)
		return
	}
	h.log.Info().Int64("user_id", uid).Msg("заявка одобрена")
	h.reply(chatID, fmt.Sprintf("%s одобрен", formatUser(uid, approved.Username)), nil)
	h.reply(uid, "Доступ разрешён", nil)
}

func (h *Handler) rejectUser(chatID, uid int64) {
	rejected, err := h.users.RejectPending(uid)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Пользователь не найден в очереди", nil)
		return
	case err != nil:
		h.log.Error().Err(err).Int64("user_id", uid).Msg("не удалось отклонить заявку")
		h.reply(chatID, "Не удалось отклонить заявку", nil)
		return
	}
	h.log.Info().Int64("user_id", uid).Msg("заявка отклонена")
	h.reply(chatID, fmt.Sprintf("%s отклонён", formatUser(uid, rejected.Username)), nil)
	h.reply(uid, "Ваша заявка отклонена", nil)
}

func (h *Handler) handleChannels(chatID int64) {
	channels, err := h.channels.ListChannels()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы")
		h.reply(chatID, "Не удалось получить каналы", nil)
		return
	}
	if len(channels) == 0 {
		h.reply(chatID, "Каналов нет", nil)
		return
	}
	lines := make([]string, 0, len(channels))
	for _, ch := range channels {
		lines = append(lines, fmt.Sprintf("%s (%d)", channelLabel(ch), ch.ID))
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleHistory(chatID, userID int64) {
	rows, err := h.scheduleUC.History(historyLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить историю")
		h.reply(chatID, "Не удалось получить историю", nil)
		return
	}
	if len(rows) == 0 {
		h.reply(chatID, "История пуста", nil)
		return
	}
	offset := h.tzOffset(userID)
	titles := h.channelTitles()
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		if r.SentAt == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s, %s", targetLabel(titles, r.TargetChatID), FormatTime(*r.SentAt, offset)))
	}
	h.reply(chatID, strings.Join(lines, "\n"), nil)
}

func (h *Handler) handleScheduled(ctx context.Context, chatID, userID int64) {
	rows, err := h.scheduleUC.ListPending()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить расписание")
		h.reply(chatID, "Не удалось получить расписание", nil)
		return
	}
	if len(rows) == 0 {
		h.reply(chatID, "Отложенных публикаций нет", nil)
		return
	}
	offset := h.tzOffset(userID)
	titles := h.channelTitles()
	for _, r := range rows {
		h.previewScheduled(ctx, chatID, r)
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Отменить", fmt.Sprintf("cancel:%d", r.ID)),
			tgbotapi.NewInlineKeyboardButtonData("Перенести", fmt.Sprintf("resch:%d", r.ID)),
		))
		h.reply(chatID, fmt.Sprintf("%d: %s, %s", r.ID, targetLabel(titles, r.TargetChatID), FormatTime(r.PublishAt, offset)), &markup)
	}
}

// previewScheduled показывает оператору содержимое отложенного поста.
// Недоступный оригинал заменяется копией, затем ссылкой.
func (h *Handler) previewScheduled(ctx context.Context, chatID int64, job domain.ScheduledPost) {
	_, err := h.tg.Forward(ctx, chatID, job.FromChatID, job.MessageID)
	if err == nil {
		return
	}
	if domain.IsTransportNotFound(err) {
		if _, err := h.tg.Copy(ctx, chatID, job.FromChatID, job.MessageID, ""); err == nil {
			return
		}
	}
	h.log.Warn().Err(err).Int64("schedule_id", job.ID).Msg("не удалось показать отложенный пост")
	h.reply(chatID, posts.PostURL(domain.MessageRef{ChatID: job.FromChatID, MessageID: job.MessageID}), nil)
}

func (h *Handler) handleAddButton(ctx context.Context, chatID int64, args []string) {
	if len(args) < 4 {
		h.reply(chatID, "Формат: /addbutton <ссылка на пост> <текст> <ссылка>", nil)
		return
	}
	ref, err := h.tg.ResolveShareLink(ctx, args[1])
	if err != nil {
		h.reply(chatID, "Некорректная ссылка на пост", nil)
		return
	}
	label := strings.Join(args[2:len(args)-1], " ")
	if err := h.postsUC.AddButton(ctx, ref, label, args[len(args)-1], chatID); err != nil {
		h.log.Error().Err(err).Int64("message_id", ref.MessageID).Msg("не удалось добавить кнопку")
		h.reply(chatID, "Не удалось добавить кнопку", nil)
		return
	}
	h.reply(chatID, "Кнопка добавлена", nil)
}

func (h *Handler) handleDelButton(ctx context.Context, chatID int64, args []string) {
	if len(args) != 2 {
		h.reply(chatID, "Формат: /delbutton <ссылка на пост>", nil)
		return
	}
	ref, err := h.tg.ResolveShareLink(ctx, args[1])
	if err != nil {
		h.reply(chatID, "Некорректная ссылка на пост", nil)
		return
	}
	if err := h.postsUC.DelButton(ctx, ref); err != nil {
		h.log.Error().Err(err).Int64("message_id", ref.MessageID).Msg("не удалось удалить кнопки")
		h.reply(chatID, "Не удалось удалить кнопки", nil)
		return
	}
	h.reply(chatID, "Кнопки удалены", nil)
}

func (h *Handler) handleAddWeatherButton(ctx context.Context, chatID int64, args []string) {
	if len(args) < 3 {
		h.reply(chatID, "Формат: /addweatherbutton <ссылка на пост> <шаблон подписи>", nil)
		return
	}
	ref, err := h.tg.ResolveShareLink(ctx, args[1])
	if err != nil {
		h.reply(chatID, "Некорректная ссылка на пост", nil)
		return
	}
	labelTemplate := strings.Join(args[2:], " ")
	if err := h.postsUC.AddWeatherButton(ctx, ref, labelTemplate, chatID); err != nil {
		h.log.Error().Err(err).Int64("message_id", ref.MessageID).Msg("не удалось добавить погодную кнопку")
		h.reply(chatID, "Не удалось добавить погодную кнопку", nil)
		return
	}
	h.reply(chatID, "Погодная кнопка добавлена", nil)
}

func (h *Handler) handleAddCity(chatID int64, text string) {
	parts := strings.SplitN(text, " ", 3)
	if len(parts) != 3 {
		h.reply(chatID, "Формат: /addcity <название> <широта> <долгота>", nil)
		return
	}
	lat, lon, ok := parseCoords(parts[2])
	if !ok {
		h.reply(chatID, "Некорректные координаты", nil)
		return
	}
	name := strings.TrimSpace(parts[1])
	if _, err := h.weatherUC.AddCity(domain.City{Name: name, Lat: lat, Lon: lon}); err != nil {
		h.log.Error().Err(err).Str("city", name).Msg("не удалось добавить город")
		h.reply(chatID, "Не удалось добавить город", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Город %s добавлен", name), nil)
}

func (h *Handler) handleAddSea(chatID int64, text string) {
	parts := strings.SplitN(text, " ", 3)
	if len(parts) != 3 {
		h.reply(chatID, "Формат: /addsea <название> <широта> <долгота>", nil)
		return
	}
	lat, lon, ok := parseCoords(parts[2])
	if !ok {
		h.reply(chatID, "Некорректные координаты", nil)
		return
	}
	name := strings.TrimSpace(parts[1])
	if _, err := h.weatherUC.AddSea(domain.Sea{Name: name, Lat: lat, Lon: lon}); err != nil {
		h.log.Error().Err(err).Str("sea", name).Msg("не удалось добавить море")
		h.reply(chatID, "Не удалось добавить море", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Море %s добавлено", name), nil)
}

func (h *Handler) handleCities(chatID int64) {
	cities, err := h.weatherUC.Cities()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить города")
		h.reply(chatID, "Не удалось получить города", nil)
		return
	}
	if len(cities) == 0 {
		h.reply(chatID, "Города не добавлены", nil)
		return
	}
	for _, city := range cities {
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Удалить", fmt.Sprintf("city_del:%d", city.ID)),
		))
		h.reply(chatID, fmt.Sprintf("%d: %s (%.6f, %.6f)", city.ID, city.Name, city.Lat, city.Lon), &markup)
	}
}

func (h *Handler) handleSeas(chatID int64) {
	seas, err := h.weatherUC.Seas()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить моря")
		h.reply(chatID, "Не удалось получить моря", nil)
		return
	}
	if len(seas) == 0 {
		h.reply(chatID, "Моря не добавлены", nil)
		return
	}
	for _, sea := range seas {
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Удалить", fmt.Sprintf("sea_del:%d", sea.ID)),
		))
		h.reply(chatID, fmt.Sprintf("%d: %s (%.6f, %.6f)", sea.ID, sea.Name, sea.Lat, sea.Lon), &markup)
	}
}

func (h *Handler) handleWeatherPosts(ctx context.Context, chatID int64, args []string) {
	if len(args) > 1 && args[1] == "update" {
		if err := h.postsUC.UpdateAffected(ctx, nil); err != nil {
			h.log.Error().Err(err).Msg("не удалось обновить посты")
		}
	}
	registered, err := h.postsUC.List()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить посты")
		h.reply(chatID, "Не удалось получить посты", nil)
		return
	}
	if len(registered) == 0 {
		h.reply(chatID, "Погодные посты не зарегистрированы", nil)
		return
	}
	for _, p := range registered {
		ref := domain.MessageRef{ChatID: p.ChatID, MessageID: p.MessageID}
		line := posts.PostURL(ref)
		if header, err := h.weatherUC.Render(p.Template); err == nil {
			line += " " + header
		} else {
			line += " данных нет"
		}
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Удалить", fmt.Sprintf("wpost_del:%d:%d", p.ChatID, p.MessageID)),
		))
		h.reply(chatID, line, &markup)
	}
}

func (h *Handler) handleRegWeather(ctx context.Context, chatID int64, text string) {
	parts := strings.SplitN(text, " ", 3)
	if len(parts) != 3 {
		h.reply(chatID, "Формат: /regweather <ссылка на пост> <шаблон>", nil)
		return
	}
	ref, err := h.tg.ResolveShareLink(ctx, strings.TrimSpace(parts[1]))
	if err != nil {
		h.reply(chatID, "Некорректная ссылка на пост", nil)
		return
	}
	if err := h.postsUC.Register(ctx, ref, parts[2], chatID); err != nil {
		h.log.Error().Err(err).Int64("message_id", ref.MessageID).Msg("не удалось зарегистрировать пост")
		h.reply(chatID, "Не удалось прочитать пост", nil)
		return
	}
	h.reply(chatID, "Погодный пост зарегистрирован", nil)
}

func (h *Handler) handleSetupWeather(chatID, userID int64) {
	channels, err := h.channels.ListChannels()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы")
		h.reply(chatID, "Не удалось получить каналы", nil)
		return
	}
	existing, err := h.scheduleUC.PublishChannels()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы погоды")
		h.reply(chatID, "Не удалось получить каналы", nil)
		return
	}
	used := make(map[int64]bool, len(existing))
	for _, ch := range existing {
		used[ch.ChannelID] = true
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels))
	for _, ch := range channels {
		if used[ch.ID] {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(channelLabel(ch), fmt.Sprintf("ws_ch:%d", ch.ID)),
		))
	}
	if len(rows) == 0 {
		h.reply(chatID, "Нет доступных каналов", nil)
		return
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.setSession(userID, &awaitWeatherChannel{})
	h.reply(chatID, "Выберите канал", &markup)
}

func (h *Handler) handleListWeatherChannels(chatID, userID int64) {
	rows, err := h.scheduleUC.PublishChannels()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы погоды")
		h.reply(chatID, "Не удалось получить каналы", nil)
		return
	}
	if len(rows) == 0 {
		h.reply(chatID, "Каналы погоды не настроены", nil)
		return
	}
	offset := h.tzOffset(userID)
	for _, r := range rows {
		label := r.Title
		if label == "" {
			label = strconv.FormatInt(r.ChannelID, 10)
		}
		last := "ещё не публиковался"
		if r.LastPublishedAt != nil {
			last = FormatTime(*r.LastPublishedAt, offset)
		}
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Опубликовать сейчас", fmt.Sprintf("wrnow:%d", r.ChannelID)),
			tgbotapi.NewInlineKeyboardButtonData("Остановить", fmt.Sprintf("wstop:%d", r.ChannelID)),
		))
		h.reply(chatID, fmt.Sprintf("%s: публикация в %s, последняя %s", label, r.PostTime, last), &markup)
	}
}

func (h *Handler) handleSetAssetsChannel(chatID, userID int64) {
	channels, err := h.channels.ListChannels()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы")
		h.reply(chatID, "Не удалось получить каналы", nil)
		return
	}
	if len(channels) == 0 {
		h.reply(chatID, "Нет доступных каналов", nil)
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels))
	for _, ch := range channels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(channelLabel(ch), fmt.Sprintf("asset_ch:%d", ch.ID)),
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.setSession(userID, &awaitAssetChannel{})
	h.reply(chatID, "Выберите канал заготовок", &markup)
}

func (h *Handler) handleWeather(ctx context.Context, chatID int64, args []string) {
	if len(args) > 1 && strings.EqualFold(args[1], "now") {
		if _, err := h.weatherUC.Collect(ctx, true); err != nil {
			h.log.Error().Err(err).Msg("не удалось обновить погоду")
		}
		if _, err := h.weatherUC.CollectSea(ctx, true); err != nil {
			h.log.Error().Err(err).Msg("не удалось обновить температуру воды")
		}
	}
	summary, err := h.weatherUC.Summary()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось собрать сводку")
		h.reply(chatID, "Не удалось собрать сводку", nil)
		return
	}
	h.reply(chatID, summary, nil)
}

func (h *Handler) handleFallback(chatID, userID int64, msg *tgbotapi.Message) {
	if msg.ForwardFromChat != nil && msg.ForwardFromMessageID != 0 && h.isAuthorized(userID) {
		source := domain.MessageRef{ChatID: msg.ForwardFromChat.ID, MessageID: int64(msg.ForwardFromMessageID)}
		h.startScheduling(chatID, userID, source)
		return
	}
	if !h.isAuthorized(userID) {
		h.reply(chatID, "Нет доступа", nil)
		return
	}
	h.reply(chatID, "Перешлите пост из канала, чтобы запланировать публикацию", nil)
}

// startScheduling открывает выбор целевых каналов для пересланного поста.
func (h *Handler) startScheduling(chatID, userID int64, source domain.MessageRef) {
	channels, err := h.channels.ListChannels()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы")
		h.reply(chatID, "Не удалось получить каналы", nil)
		return
	}
	if len(channels) == 0 {
		h.reply(chatID, "Нет доступных каналов", nil)
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(channels)+1)
	for _, ch := range channels {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(channelLabel(ch), fmt.Sprintf("addch:%d", ch.ID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Готово", "chdone")))
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	h.setSession(userID, &awaitChannels{Source: source, Selected: make(map[int64]bool)})
	h.reply(chatID, "Выберите каналы", &markup)
}

// handleSessionInput обрабатывает свободный текст открытого диалога.
func (h *Handler) handleSessionInput(ctx context.Context, chatID, userID int64, text string) bool {
	switch state := h.getSession(userID).(type) {
	case *awaitTime:
		h.finishScheduling(ctx, chatID, userID, state, text)
		return true
	case *awaitReschedule:
		h.finishReschedule(chatID, userID, state.ScheduleID, text)
		return true
	case *awaitWeatherTime:
		if !state.Manual {
			return false
		}
		h.finishWeatherSetup(chatID, userID, state.ChannelID, text)
		return true
	}
	return false
}

func (h *Handler) finishScheduling(ctx context.Context, chatID, userID int64, state *awaitTime, text string) {
	offset := h.tzOffset(userID)
	at, err := ParseTimeInput(text, offset, time.Now().UTC())
	switch {
	case errors.Is(err, ErrPastTime):
		h.reply(chatID, "Время в прошлом", nil)
		return
	case err != nil:
		h.reply(chatID, "Неверный формат времени. Введите ЧЧ:ММ или ДД.ММ.ГГГГ ЧЧ:ММ", nil)
		return
	}
	h.clearSession(userID)

	// пробная пересылка: без прав чтения в исходном канале
	// планировать бессмысленно, копия остаётся оператору предпросмотром
	if _, err := h.tg.Forward(ctx, chatID, state.Source.ChatID, state.Source.MessageID); err != nil {
		h.reply(chatID, fmt.Sprintf("Сначала добавьте бота в канал %d с правами читателя", state.Source.ChatID), nil)
		return
	}

	targets := make([]int64, 0, len(state.Selected))
	for id := range state.Selected {
		targets = append(targets, id)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
	if _, err := h.scheduleUC.CreateBatch(state.Source, targets, at); err != nil {
		h.log.Error().Err(err).Msg("не удалось запланировать публикацию")
		h.reply(chatID, "Не удалось запланировать публикацию", nil)
		return
	}
	h.reply(chatID, fmt.Sprintf("Запланировано в %d каналов на %s", len(targets), FormatTime(at, offset)), nil)
}

func (h *Handler) finishReschedule(chatID, userID, scheduleID int64, text string) {
	offset := h.tzOffset(userID)
	at, err := ParseTimeInput(text, offset, time.Now().UTC())
	switch {
	case errors.Is(err, ErrPastTime):
		h.reply(chatID, "Время в прошлом", nil)
		return
	case err != nil:
		h.reply(chatID, "Неверный формат времени. Введите ЧЧ:ММ или ДД.ММ.ГГГГ ЧЧ:ММ", nil)
		return
	}
	h.clearSession(userID)
	switch err := h.scheduleUC.Reschedule(scheduleID, at); {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Публикация уже отправлена или отменена", nil)
	case err != nil:
		h.log.Error().Err(err).Int64("schedule_id", scheduleID).Msg("не удалось перенести публикацию")
		h.reply(chatID, "Не удалось перенести публикацию", nil)
	default:
		h.reply(chatID, fmt.Sprintf("Перенесено на %s", FormatTime(at, offset)), nil)
	}
}

func (h *Handler) finishWeatherSetup(chatID, userID, channelID int64, text string) {
	value := strings.TrimSpace(text)
	if _, err := time.Parse("15:04", value); err != nil {
		h.reply(chatID, "Неверный формат времени. Введите ЧЧ:ММ", nil)
		return
	}
	h.clearSession(userID)
	if err := h.scheduleUC.AddPublishChannel(channelID, value); err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("не удалось зарегистрировать канал погоды")
		h.reply(chatID, "Не удалось зарегистрировать канал", nil)
		return
	}
	h.reply(chatID, "Канал погоды зарегистрирован", nil)
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer h.answerCallback(cb)
	if cb.From == nil {
		return
	}
	userID := cb.From.ID
	chatID := userID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
	}
	data := cb.Data
	switch {
	case strings.HasPrefix(data, "addch:"):
		h.toggleChannel(userID, parseID(data))
	case data == "chdone":
		h.confirmChannels(chatID, userID)
	case strings.HasPrefix(data, "ws_ch:"):
		h.pickWeatherChannel(chatID, userID, parseID(data))
	case data == "ws_custom":
		h.askWeatherTime(chatID, userID)
	case strings.HasPrefix(data, "ws_time:"):
		h.presetWeatherTime(chatID, userID, strings.TrimPrefix(data, "ws_time:"))
	case strings.HasPrefix(data, "asset_ch:"):
		h.pickAssetChannel(chatID, userID, parseID(data))
	case strings.HasPrefix(data, "wrnow:"):
		if h.isSuperadmin(userID) {
			h.runPublishNow(ctx, chatID, parseID(data))
		}
	case strings.HasPrefix(data, "wstop:"):
		if h.isSuperadmin(userID) {
			h.stopPublishChannel(chatID, parseID(data))
		}
	case strings.HasPrefix(data, "approve:"):
		if h.isSuperadmin(userID) {
			h.approveUser(chatID, parseID(data))
		}
	case strings.HasPrefix(data, "reject:"):
		if h.isSuperadmin(userID) {
			h.rejectUser(chatID, parseID(data))
		}
	case strings.HasPrefix(data, "cancel:"):
		if h.isAuthorized(userID) {
			h.cancelScheduled(chatID, parseID(data))
		}
	case strings.HasPrefix(data, "resch:"):
		if h.isAuthorized(userID) {
			if id := parseID(data); id != 0 {
				h.setSession(userID, &awaitReschedule{ScheduleID: id})
				h.reply(chatID, "Введите новое время", nil)
			}
		}
	case strings.HasPrefix(data, "city_del:"):
		if h.isSuperadmin(userID) {
			h.deleteCity(chatID, cb, parseID(data))
		}
	case strings.HasPrefix(data, "sea_del:"):
		if h.isSuperadmin(userID) {
			h.deleteSea(chatID, cb, parseID(data))
		}
	case strings.HasPrefix(data, "wpost_del:"):
		if h.isSuperadmin(userID) {
			h.unregisterPost(chatID, cb, data)
		}
	}
}

func (h *Handler) toggleChannel(userID, channelID int64) {
	if channelID == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	switch state := h.sessions[userID].(type) {
	case *awaitChannels:
		flip(state.Selected, channelID)
	case *awaitTime:
		flip(state.Selected, channelID)
	}
}

func flip(selected map[int64]bool, id int64) {
	if selected[id] {
		delete(selected, id)
	} else {
		selected[id] = true
	}
}

func (h *Handler) confirmChannels(chatID, userID int64) {
	h.mu.Lock()
	state, ok := h.sessions[userID].(*awaitChannels)
	if ok && len(state.Selected) > 0 {
		h.sessions[userID] = &awaitTime{Source: state.Source, Selected: state.Selected}
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	if len(state.Selected) == 0 {
		h.reply(chatID, "Выберите хотя бы один канал", nil)
		return
	}
	h.reply(chatID, "Введите время (ЧЧ:ММ или ДД.ММ.ГГГГ ЧЧ:ММ)", nil)
}

func (h *Handler) pickWeatherChannel(chatID, userID, channelID int64) {
	if channelID == 0 {
		return
	}
	if _, ok := h.getSession(userID).(*awaitWeatherChannel); !ok {
		return
	}
	h.setSession(userID, &awaitWeatherTime{ChannelID: channelID})
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData(defaultPostTime, "ws_time:"+defaultPostTime),
		tgbotapi.NewInlineKeyboardButtonData("Своё время", "ws_custom"),
	))
	h.reply(chatID, "Выберите время", &markup)
}

func (h *Handler) askWeatherTime(chatID, userID int64) {
	h.mu.Lock()
	state, ok := h.sessions[userID].(*awaitWeatherTime)
	if ok {
		state.Manual = true
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.reply(chatID, "Введите время ЧЧ:ММ", nil)
}

func (h *Handler) presetWeatherTime(chatID, userID int64, raw string) {
	state, ok := h.getSession(userID).(*awaitWeatherTime)
	if !ok {
		return
	}
	h.finishWeatherSetup(chatID, userID, state.ChannelID, raw)
}

func (h *Handler) pickAssetChannel(chatID, userID, channelID int64) {
	if channelID == 0 {
		return
	}
	if _, ok := h.getSession(userID).(*awaitAssetChannel); !ok {
		return
	}
	h.clearSession(userID)
	if err := h.settings.SetAssetChannel(channelID); err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("не удалось сохранить канал заготовок")
		h.reply(chatID, "Не удалось сохранить канал", nil)
		return
	}
	h.reply(chatID, "Канал заготовок выбран", nil)
}

func (h *Handler) runPublishNow(ctx context.Context, chatID, channelID int64) {
	if channelID == 0 {
		return
	}
	if err := h.scheduleUC.PublishWeather(ctx, channelID, nil, false); err != nil {
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("не удалось опубликовать погоду")
		h.reply(chatID, "Не удалось опубликовать", nil)
		return
	}
	h.reply(chatID, "Опубликовано", nil)
}

func (h *Handler) stopPublishChannel(chatID, channelID int64) {
	if channelID == 0 {
		return
	}
	switch err := h.scheduleUC.RemovePublishChannel(channelID); {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Канал не настроен", nil)
	case err != nil:
		h.log.Error().Err(err).Int64("channel_id", channelID).Msg("не удалось отключить канал")
		h.reply(chatID, "Не удалось отключить канал", nil)
	default:
		h.reply(chatID, "Канал отключён", nil)
	}
}

func (h *Handler) cancelScheduled(chatID, scheduleID int64) {
	if scheduleID == 0 {
		return
	}
	switch err := h.scheduleUC.Cancel(scheduleID); {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Публикация уже отправлена или отменена", nil)
	case err != nil:
		h.log.Error().Err(err).Int64("schedule_id", scheduleID).Msg("не удалось отменить публикацию")
		h.reply(chatID, "Не удалось отменить публикацию", nil)
	default:
		h.reply(chatID, fmt.Sprintf("Публикация %d отменена", scheduleID), nil)
	}
}

func (h *Handler) deleteCity(chatID int64, cb *tgbotapi.CallbackQuery, cityID int64) {
	if cityID == 0 {
		return
	}
	switch err := h.weatherUC.DeleteCity(cityID); {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Город не найден", nil)
	case err != nil:
		h.log.Error().Err(err).Int64("city_id", cityID).Msg("не удалось удалить город")
		h.reply(chatID, "Не удалось удалить город", nil)
	default:
		h.clearMarkup(cb)
		h.reply(chatID, fmt.Sprintf("Город %d удалён", cityID), nil)
	}
}

func (h *Handler) deleteSea(chatID int64, cb *tgbotapi.CallbackQuery, seaID int64) {
	if seaID == 0 {
		return
	}
	switch err := h.weatherUC.DeleteSea(seaID); {
	case errors.Is(err, domain.ErrNotFound):
		h.reply(chatID, "Море не найдено", nil)
	case err != nil:
		h.log.Error().Err(err).Int64("sea_id", seaID).Msg("не удалось удалить море")
		h.reply(chatID, "Не удалось удалить море", nil)
	default:
		h.clearMarkup(cb)
		h.reply(chatID, fmt.Sprintf("Море %d удалено", seaID), nil)
	}
}

func (h *Handler) unregisterPost(chatID int64, cb *tgbotapi.CallbackQuery, data string) {
	ref, ok := parseRef(data)
	if !ok {
		return
	}
	if err := h.postsUC.Unregister(ref); err != nil {
		h.log.Error().Err(err).Int64("message_id", ref.MessageID).Msg("не удалось снять пост с обновления")
		h.reply(chatID, "Не удалось снять пост", nil)
		return
	}
	h.clearMarkup(cb)
	h.reply(chatID, "Пост снят с обновления", nil)
}

func (h *Handler) handleMyChatMember(upd *tgbotapi.ChatMemberUpdated) {
	status := upd.NewChatMember.Status
	if status == "administrator" || status == "creator" {
		title := upd.Chat.Title
		if title == "" {
			title = upd.Chat.UserName
		}
		if err := h.channels.UpsertChannel(domain.Channel{ID: upd.Chat.ID, Title: title}); err != nil {
			h.log.Error().Err(err).Int64("channel_id", upd.Chat.ID).Msg("не удалось сохранить канал")
			return
		}
		h.log.Info().Int64("channel_id", upd.Chat.ID).Str("title", title).Msg("канал добавлен")
		return
	}
	if err := h.channels.DeleteChannel(upd.Chat.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		h.log.Error().Err(err).Int64("channel_id", upd.Chat.ID).Msg("не удалось удалить канал")
		return
	}
	h.log.Info().Int64("channel_id", upd.Chat.ID).Msg("канал удалён")
}

func (h *Handler) setSession(userID int64, state sessionState) {
	h.mu.Lock()
	h.sessions[userID] = state
	h.mu.Unlock()
}

func (h *Handler) getSession(userID int64) sessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[userID]
}

func (h *Handler) clearSession(userID int64) {
	h.mu.Lock()
	delete(h.sessions, userID)
	h.mu.Unlock()
}

func (h *Handler) isAuthorized(userID int64) bool {
	_, err := h.users.GetUser(userID)
	return err == nil
}

func (h *Handler) isSuperadmin(userID int64) bool {
	user, err := h.users.GetUser(userID)
	return err == nil && user.IsSuperadmin
}

func (h *Handler) requireAuthorized(chatID, userID int64) bool {
	if h.isAuthorized(userID) {
		return true
	}
	h.reply(chatID, "Нет доступа", nil)
	return false
}

func (h *Handler) requireSuperadmin(chatID, userID int64) bool {
	if h.isSuperadmin(userID) {
		return true
	}
	if h.isAuthorized(userID) {
		h.reply(chatID, "Недостаточно прав", nil)
	} else {
		h.reply(chatID, "Нет доступа", nil)
	}
	return false
}

// tzOffset возвращает смещение оператора, при его отсутствии общее.
func (h *Handler) tzOffset(userID int64) string {
	user, err := h.users.GetUser(userID)
	if err == nil && user.TZOffset != "" {
		return user.TZOffset
	}
	return h.defaultTZ
}

func (h *Handler) channelTitles() map[int64]string {
	titles := make(map[int64]string)
	channels, err := h.channels.ListChannels()
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось получить каналы")
		return titles
	}
	for _, ch := range channels {
		titles[ch.ID] = ch.Title
	}
	return titles
}

func (h *Handler) answerCallback(cb *tgbotapi.CallbackQuery) {
	target := ""
	if cb.From != nil {
		target = strconv.FormatInt(cb.From.ID, 10)
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", target, start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

func (h *Handler) clearMarkup(cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	start := time.Now()
	_, err := h.bot.Request(edit)
	metrics.ObserveNetworkRequest("telegram_bot", "edit_markup", strconv.FormatInt(cb.Message.Chat.ID, 10), start, err)
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось убрать клавиатуру")
	}
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	parts := telegram.SplitMessage(text)
	for i, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func buildStartMessage(isSuperadmin bool) string {
	lines := []string{
		"Бот работает.",
		"",
		"Перешлите пост из канала, чтобы запланировать публикацию.",
		"/scheduled — очередь, /history — отправленные.",
		"/tz +03:00 — ваш часовой пояс.",
	}
	if isSuperadmin {
		lines = append(lines,
			"",
			"/weather — сводка, /cities и /seas — точки сбора.",
			"/weatherposts — посты с шапкой погоды.",
			"/list_weather_channels — ежедневная автопубликация.",
			"/pending — заявки на доступ.",
		)
	}
	return strings.Join(lines, "\n")
}

func formatUser(id int64, username string) string {
	if username != "" {
		return fmt.Sprintf("@%s (%d)", username, id)
	}
	return strconv.FormatInt(id, 10)
}

func channelLabel(ch domain.Channel) string {
	if ch.Title != "" {
		return ch.Title
	}
	return strconv.FormatInt(ch.ID, 10)
}

func targetLabel(titles map[int64]string, chatID int64) string {
	if title := titles[chatID]; title != "" {
		return fmt.Sprintf("%s (%d)", title, chatID)
	}
	return strconv.FormatInt(chatID, 10)
}

func parseUserArg(text string) (int64, bool) {
	args := strings.Fields(text)
	if len(args) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func parseID(data string) int64 {
	parts := strings.Split(data, ":")
	if len(parts) != 2 {
		return 0
	}
	id, _ := strconv.ParseInt(parts[1], 10, 64)
	return id
}

func parseRef(data string) (domain.MessageRef, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return domain.MessageRef{}, false
	}
	chatID, chatErr := strconv.ParseInt(parts[1], 10, 64)
	messageID, msgErr := strconv.ParseInt(parts[2], 10, 64)
	if chatErr != nil || msgErr != nil {
		return domain.MessageRef{}, false
	}
	return domain.MessageRef{ChatID: chatID, MessageID: messageID}, true
}

func parseCoords(text string) (lat, lon float64, ok bool) {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) != 2 {
		return 0, 0, false
	}
	lat, latErr := strconv.ParseFloat(fields[0], 64)
	lon, lonErr := strconv.ParseFloat(fields[1], 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// Ошибки разбора времени, введённого оператором.
var (
	ErrBadTime  = errors.New("некорректное время")
	ErrPastTime = errors.New("время в прошлом")
)

// ParseOffset разбирает смещение часового пояса вида +03:00.
func ParseOffset(offset string) (time.Duration, error) {
	value := strings.TrimSpace(offset)
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(value, "-"):
		sign = -1
		value = value[1:]
	case strings.HasPrefix(value, "+"):
		value = value[1:]
	}
	hh, mm, ok := strings.Cut(value, ":")
	if !ok {
		return 0, fmt.Errorf("смещение %q: ожидается формат +ЧЧ:ММ", offset)
	}
	hours, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("смещение %q: %w", offset, err)
	}
	minutes, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("смещение %q: %w", offset, err)
	}
	if hours < 0 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("смещение %q: значение вне диапазона", offset)
	}
	return sign * (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute), nil
}

// ParseTimeInput переводит введённое оператором время в UTC-момент
// публикации. Принимаются ЧЧ:ММ (сегодня по времени оператора) и
// ДД.ММ.ГГГГ ЧЧ:ММ; прошедший момент не принимается.
func ParseTimeInput(input, offset string, now time.Time) (time.Time, error) {
	off, err := ParseOffset(offset)
	if err != nil {
		return time.Time{}, err
	}
	value := strings.TrimSpace(input)
	var local time.Time
	if fields := strings.Fields(value); len(fields) == 2 {
		parsed, err := time.Parse("02.01.2006 15:04", strings.Join(fields, " "))
		if err != nil {
			return time.Time{}, ErrBadTime
		}
		local = parsed
	} else {
		parsed, err := time.Parse("15:04", value)
		if err != nil {
			return time.Time{}, ErrBadTime
		}
		today := now.UTC().Add(off)
		local = time.Date(today.Year(), today.Month(), today.Day(), parsed.Hour(), parsed.Minute(), 0, 0, time.UTC)
	}
	at := local.Add(-off)
	if !at.After(now.UTC()) {
		return time.Time{}, ErrPastTime
	}
	return at, nil
}

// FormatTime печатает UTC-момент во времени оператора.
func FormatTime(t time.Time, offset string) string {
	off, err := ParseOffset(offset)
	if err != nil {
		off = 0
	}
	return t.UTC().Add(off).Format("15:04 02.01.2006")
}

// Package posts поддерживает актуальность погодных шапок и живых кнопок
// в уже опубликованных сообщениях.
package posts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
	"tg-weather-bot/internal/usecase/weather"
)

// Separator отделяет погодную шапку от исходного текста поста. Символ
// зарезервирован: повторная регистрация отрезает всё до первого
// вхождения и не наслаивает шапки.
const Separator = "∙"

// Renderer строит срез кэша погоды для набора шаблонов.
type Renderer interface {
	BuildSnapshot(templates ...string) (weather.Snapshot, error)
}

// Service управляет зарегистрированными постами и их клавиатурами.
type Service struct {
	posts    domain.PostRepo
	settings domain.SettingsRepo
	renderer Renderer
	tg       domain.Messenger
	log      zerolog.Logger
}

// NewService создаёт сервис живых постов.
func NewService(posts domain.PostRepo, settings domain.SettingsRepo, renderer Renderer, tg domain.Messenger, log zerolog.Logger) *Service {
	return &Service{posts: posts, settings: settings, renderer: renderer, tg: tg, log: log}
}

// PostURL строит публичную ссылку на сообщение. У внутренних id каналов
// отбрасывается префикс -100.
func PostURL(ref domain.MessageRef) string {
	chat := strconv.FormatInt(ref.ChatID, 10)
	if strings.HasPrefix(chat, "-100") {
		return fmt.Sprintf("https://t.me/c/%s/%d", chat[4:], ref.MessageID)
	}
	return fmt.Sprintf("https://t.me/%s/%d", chat, ref.MessageID)
}

// stripHeader отрезает прежнюю шапку до первого разделителя
// включительно. Текст без разделителя возвращается как есть.
func stripHeader(text string) string {
	if _, after, ok := strings.Cut(text, Separator); ok {
		return after
	}
	return text
}

// Register регистрирует опубликованный пост: пробной пересылкой в чат
// оператора считывает его текущее содержимое и клавиатуру, отделяет
// прежнюю шапку и сохраняет запись. Сразу после регистрации пост
// обновляется по кэшу.
func (s *Service) Register(ctx context.Context, ref domain.MessageRef, template string, probeChatID int64) error {
	fwd, err := s.tg.Forward(ctx, probeChatID, ref.ChatID, ref.MessageID)
	if err != nil {
		return fmt.Errorf("пробная пересылка: %w", err)
	}
	if err := s.tg.Delete(ctx, probeChatID, fwd.MessageID); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", probeChatID).Msg("не удалось удалить пробное сообщение")
	}

	post := domain.WeatherPost{
		ChatID:      ref.ChatID,
		MessageID:   ref.MessageID,
		Template:    template,
		BaseText:    stripHeader(fwd.Text),
		BaseCaption: stripHeader(fwd.Caption),
		Markup:      fwd.Markup,
	}
	if err := s.posts.UpsertWeatherPost(post); err != nil {
		return fmt.Errorf("сохранение поста: %w", err)
	}

	refs := weather.TemplateIDs(template)
	ids := make([]int64, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	return s.UpdateAffected(ctx, ids)
}

// Unregister снимает пост с обновления.
func (s *Service) Unregister(ref domain.MessageRef) error {
	return s.posts.DeleteWeatherPost(ref.ChatID, ref.MessageID)
}

// List возвращает все зарегистрированные посты.
func (s *Service) List() ([]domain.WeatherPost, error) {
	return s.posts.ListWeatherPosts()
}

// UpdateAffected перерисовывает шапки постов. Nil обновляет все посты,
// иначе пропускаются посты, чьи шаблоны не ссылаются ни на один id из
// changed. Неготовый рендер и неудачный edit не снимают пост с учёта.
func (s *Service) UpdateAffected(ctx context.Context, changed []int64) error {
	registered, err := s.posts.ListWeatherPosts()
	if err != nil {
		return fmt.Errorf("список постов: %w", err)
	}

	var targets []domain.WeatherPost
	var templates []string
	for _, post := range registered {
		if changed != nil && !referencesAny(post.Template, changed) {
			continue
		}
		targets = append(targets, post)
		templates = append(templates, post.Template)
	}
	if len(targets) == 0 {
		return nil
	}

	snap, err := s.renderer.BuildSnapshot(templates...)
	if err != nil {
		return fmt.Errorf("срез кэша: %w", err)
	}
	for _, post := range targets {
		header, err := weather.RenderTemplate(post.Template, snap)
		if err != nil {
			s.log.Info().Err(err).Int64("chat_id", post.ChatID).Int64("message_id", post.MessageID).Msg("шапка не готова, пост пропущен")
			continue
		}
		s.applyHeader(ctx, post, header)
	}
	return nil
}

func referencesAny(template string, ids []int64) bool {
	refs := weather.TemplateIDs(template)
	for _, id := range ids {
		if _, ok := refs[id]; ok {
			return true
		}
	}
	return false
}

// applyHeader собирает итоговый текст и правит сообщение. Шапка
// приклеивается к базе одним разделителем без переносов.
func (s *Service) applyHeader(ctx context.Context, post domain.WeatherPost, header string) {
	if post.BaseCaption != "" {
		caption := header + Separator + post.BaseCaption
		if err := s.tg.EditCaption(ctx, post.ChatID, post.MessageID, caption, post.Markup); err != nil {
			s.log.Error().Err(err).Int64("chat_id", post.ChatID).Int64("message_id", post.MessageID).Msg("не удалось обновить подпись поста")
			return
		}
		metrics.PostsUpdatedTotal.Inc()
		return
	}
	text := header
	if post.BaseText != "" {
		text = header + Separator + post.BaseText
	}
	if err := s.tg.EditText(ctx, post.ChatID, post.MessageID, text, post.Markup); err != nil {
		s.log.Error().Err(err).Int64("chat_id", post.ChatID).Int64("message_id", post.MessageID).Msg("не удалось обновить текст поста")
		return
	}
	metrics.PostsUpdatedTotal.Inc()
}

// AddButton добавляет кнопку-ссылку новой строкой к текущей клавиатуре
// поста. Пробная пересылка нужна, чтобы прочитать клавиатуру.
func (s *Service) AddButton(ctx context.Context, ref domain.MessageRef, label, url string, probeChatID int64) error {
	fwd, err := s.tg.Forward(ctx, probeChatID, ref.ChatID, ref.MessageID)
	if err != nil {
		return fmt.Errorf("пробная пересылка: %w", err)
	}
	if err := s.tg.Delete(ctx, probeChatID, fwd.MessageID); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", probeChatID).Msg("не удалось удалить пробное сообщение")
	}

	markup := fwd.Markup
	if markup == nil {
		markup = &domain.Markup{}
	}
	markup.InlineKeyboard = append(markup.InlineKeyboard, []domain.Button{{Text: label, URL: url}})
	if err := s.tg.EditMarkup(ctx, ref.ChatID, ref.MessageID, markup); err != nil {
		return fmt.Errorf("обновление клавиатуры: %w", err)
	}
	return nil
}

// AddWeatherButton регистрирует кнопку с живой погодной подписью.
// Клавиатура поста заменяется одной строкой из всех его погодных
// кнопок, ссылка ведёт на последний опубликованный пост погоды.
func (s *Service) AddWeatherButton(ctx context.Context, ref domain.MessageRef, labelTemplate string, probeChatID int64) error {
	fwd, err := s.tg.Forward(ctx, probeChatID, ref.ChatID, ref.MessageID)
	if err != nil {
		return fmt.Errorf("пробная пересылка: %w", err)
	}
	if err := s.tg.Delete(ctx, probeChatID, fwd.MessageID); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", probeChatID).Msg("не удалось удалить пробное сообщение")
	}

	btn := domain.WeatherButton{ChatID: ref.ChatID, MessageID: ref.MessageID, Label: labelTemplate}
	if err := s.posts.UpsertWeatherButton(btn); err != nil {
		return fmt.Errorf("сохранение кнопки: %w", err)
	}
	return s.refreshButtons(ctx, &ref)
}

// DelButton удаляет все погодные кнопки поста и очищает его клавиатуру.
func (s *Service) DelButton(ctx context.Context, ref domain.MessageRef) error {
	if err := s.posts.DeleteWeatherButton(ref.ChatID, ref.MessageID); err != nil {
		return fmt.Errorf("удаление кнопок: %w", err)
	}
	if err := s.tg.EditMarkup(ctx, ref.ChatID, ref.MessageID, nil); err != nil {
		return fmt.Errorf("очистка клавиатуры: %w", err)
	}
	return nil
}

// UpdateButtons перерисовывает погодные кнопки всех постов по кэшу.
func (s *Service) UpdateButtons(ctx context.Context) error {
	return s.refreshButtons(ctx, nil)
}

// RecordLatest запоминает последний опубликованный пост погоды и
// перерисовывает кнопки, чтобы ссылки вели на него.
func (s *Service) RecordLatest(ctx context.Context, ref domain.MessageRef) error {
	if err := s.settings.SetLatestWeatherPost(ref); err != nil {
		return fmt.Errorf("последний пост погоды: %w", err)
	}
	return s.refreshButtons(ctx, nil)
}

// refreshButtons перерисовывает погодные строки клавиатур. При only
// обновляется только указанный пост. Пока пост погоды ни разу не
// публиковался, кнопкам некуда вести и клавиатуры не трогаются.
func (s *Service) refreshButtons(ctx context.Context, only *domain.MessageRef) error {
	buttons, err := s.posts.ListWeatherButtons()
	if err != nil {
		return fmt.Errorf("список кнопок: %w", err)
	}
	if only != nil {
		var filtered []domain.WeatherButton
		for _, b := range buttons {
			if b.ChatID == only.ChatID && b.MessageID == only.MessageID {
				filtered = append(filtered, b)
			}
		}
		buttons = filtered
	}
	if len(buttons) == 0 {
		return nil
	}

	latest, err := s.settings.GetLatestWeatherPost()
	if errors.Is(err, domain.ErrNotFound) {
		s.log.Info().Msg("пост погоды ещё не публиковался, кнопки не обновлены")
		return nil
	}
	if err != nil {
		return fmt.Errorf("последний пост погоды: %w", err)
	}
	url := PostURL(latest)

	labels := make([]string, 0, len(buttons))
	for _, b := range buttons {
		labels = append(labels, b.Label)
	}
	snap, err := s.renderer.BuildSnapshot(labels...)
	if err != nil {
		return fmt.Errorf("срез кэша: %w", err)
	}

	type postKey struct{ chat, msg int64 }
	var order []postKey
	groups := make(map[postKey][]domain.WeatherButton)
	for _, b := range buttons {
		k := postKey{b.ChatID, b.MessageID}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], b)
	}

	for _, k := range order {
		row := make([]domain.Button, 0, len(groups[k]))
		ready := true
		for _, b := range groups[k] {
			label, err := weather.RenderTemplate(b.Label, snap)
			if err != nil {
				s.log.Info().Err(err).Int64("chat_id", k.chat).Int64("message_id", k.msg).Msg("подпись кнопки не готова, пост пропущен")
				ready = false
				break
			}
			row = append(row, domain.Button{Text: label, URL: url})
		}
		if !ready {
			continue
		}
		markup := &domain.Markup{InlineKeyboard: [][]domain.Button{row}}
		if err := s.tg.EditMarkup(ctx, k.chat, k.msg, markup); err != nil {
			s.log.Error().Err(err).Int64("chat_id", k.chat).Int64("message_id", k.msg).Msg("не удалось обновить кнопки")
		}
	}
	return nil
}

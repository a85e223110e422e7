package repo

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"tg-weather-bot/internal/domain"
	"tg-weather-bot/internal/infra/metrics"
)

// AddCity реализует domain.WeatherRepo.
func (p *Postgres) AddCity(city domain.City) (int64, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO cities (name, lat, lon) VALUES ($1, $2, $3) RETURNING id
`, city.Name, city.Lat, city.Lon).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "cities_insert", "cities", start, err)
	return id, err
}

// DeleteCity удаляет город вместе с кэшем погоды.
func (p *Postgres) DeleteCity(id int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM cities WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "cities_delete", "cities", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListCities возвращает города в порядке добавления.
func (p *Postgres) ListCities() ([]domain.City, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, name, lat, lon FROM cities ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "cities_list", "cities", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cities []domain.City
	for rows.Next() {
		var c domain.City
		if err := rows.Scan(&c.ID, &c.Name, &c.Lat, &c.Lon); err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	return cities, rows.Err()
}

// LatestHourReading возвращает свежайшее часовое измерение города.
func (p *Postgres) LatestHourReading(cityID int64) (domain.HourReading, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var r domain.HourReading
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT city_id, ts, temperature, weather_code, wind_speed, is_day
FROM weather_cache_hour WHERE city_id=$1 ORDER BY ts DESC LIMIT 1
`, cityID).Scan(&r.CityID, &r.Timestamp, &r.Temperature, &r.WeatherCode, &r.WindSpeed, &r.IsDay)
	metrics.ObserveNetworkRequest("postgres", "weather_hour_latest", "weather_cache_hour", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HourReading{}, domain.ErrNotFound
	}
	return r, err
}

// AppendHourReading добавляет часовое измерение. Повтор в ту же секунду
// перезаписывает строку.
func (p *Postgres) AppendHourReading(r domain.HourReading) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO weather_cache_hour (city_id, ts, temperature, weather_code, wind_speed, is_day)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (city_id, ts) DO UPDATE SET temperature = EXCLUDED.temperature, weather_code = EXCLUDED.weather_code, wind_speed = EXCLUDED.wind_speed, is_day = EXCLUDED.is_day
`, r.CityID, r.Timestamp, r.Temperature, r.WeatherCode, r.WindSpeed, r.IsDay)
	metrics.ObserveNetworkRequest("postgres", "weather_hour_insert", "weather_cache_hour", start, err)
	return err
}

// UpsertDayReading перезаписывает дневной срез города.
func (p *Postgres) UpsertDayReading(r domain.DayReading) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO weather_cache_day (city_id, day, temperature, weather_code, wind_speed)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (city_id, day) DO UPDATE SET temperature = EXCLUDED.temperature, weather_code = EXCLUDED.weather_code, wind_speed = EXCLUDED.wind_speed
`, r.CityID, r.Day, r.Temperature, r.WeatherCode, r.WindSpeed)
	metrics.ObserveNetworkRequest("postgres", "weather_day_upsert", "weather_cache_day", start, err)
	return err
}

// AddSea реализует domain.SeaRepo.
func (p *Postgres) AddSea(sea domain.Sea) (int64, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO seas (name, lat, lon) VALUES ($1, $2, $3) RETURNING id
`, sea.Name, sea.Lat, sea.Lon).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "seas_insert", "seas", start, err)
	return id, err
}

// DeleteSea удаляет море вместе с кэшем температуры.
func (p *Postgres) DeleteSea(id int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM seas WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "seas_delete", "seas", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListSeas возвращает моря в порядке добавления.
func (p *Postgres) ListSeas() ([]domain.Sea, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT id, name, lat, lon FROM seas ORDER BY id`)
	metrics.ObserveNetworkRequest("postgres", "seas_list", "seas", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seas []domain.Sea
	for rows.Next() {
		var s domain.Sea
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon); err != nil {
			return nil, err
		}
		seas = append(seas, s)
	}
	return seas, rows.Err()
}

// GetSeaReading возвращает кэш температуры воды.
func (p *Postgres) GetSeaReading(seaID int64) (domain.SeaReading, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var r domain.SeaReading
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT sea_id, updated_at, current_temp, morning_temp, midday_temp, evening_temp, night_temp
FROM sea_cache WHERE sea_id=$1
`, seaID).Scan(&r.SeaID, &r.UpdatedAt, &r.Current, &r.Morning, &r.Midday, &r.Evening, &r.Night)
	metrics.ObserveNetworkRequest("postgres", "sea_cache_get", "sea_cache", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SeaReading{}, domain.ErrNotFound
	}
	return r, err
}

// UpsertSeaReading перезаписывает кэш температуры воды моря.
func (p *Postgres) UpsertSeaReading(r domain.SeaReading) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO sea_cache (sea_id, updated_at, current_temp, morning_temp, midday_temp, evening_temp, night_temp)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (sea_id) DO UPDATE SET updated_at = EXCLUDED.updated_at, current_temp = EXCLUDED.current_temp, morning_temp = EXCLUDED.morning_temp, midday_temp = EXCLUDED.midday_temp, evening_temp = EXCLUDED.evening_temp, night_temp = EXCLUDED.night_temp
`, r.SeaID, r.UpdatedAt, r.Current, r.Morning, r.Midday, r.Evening, r.Night)
	metrics.ObserveNetworkRequest("postgres", "sea_cache_upsert", "sea_cache", start, err)
	return err
}

// UpsertWeatherPost реализует domain.PostRepo.
func (p *Postgres) UpsertWeatherPost(post domain.WeatherPost) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	var markup []byte
	if post.Markup != nil {
		data, err := json.Marshal(post.Markup)
		if err != nil {
			return fmt.Errorf("сериализация клавиатуры: %w", err)
		}
		markup = data
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO weather_posts (chat_id, message_id, template, base_text, base_caption, markup)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (chat_id, message_id) DO UPDATE SET template = EXCLUDED.template, base_text = EXCLUDED.base_text, base_caption = EXCLUDED.base_caption, markup = EXCLUDED.markup
`, post.ChatID, post.MessageID, post.Template, post.BaseText, post.BaseCaption, markup)
	metrics.ObserveNetworkRequest("postgres", "weather_posts_upsert", "weather_posts", start, err)
	return err
}

// DeleteWeatherPost снимает пост с обновления.
func (p *Postgres) DeleteWeatherPost(chatID, messageID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM weather_posts WHERE chat_id=$1 AND message_id=$2
`, chatID, messageID)
	metrics.ObserveNetworkRequest("postgres", "weather_posts_delete", "weather_posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListWeatherPosts возвращает все зарегистрированные посты.
func (p *Postgres) ListWeatherPosts() ([]domain.WeatherPost, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, chat_id, message_id, template, base_text, base_caption, markup
FROM weather_posts ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "weather_posts_list", "weather_posts", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var posts []domain.WeatherPost
	for rows.Next() {
		var (
			post   domain.WeatherPost
			markup []byte
		)
		if err := rows.Scan(&post.ID, &post.ChatID, &post.MessageID, &post.Template, &post.BaseText, &post.BaseCaption, &markup); err != nil {
			return nil, err
		}
		if len(markup) > 0 {
			var m domain.Markup
			if err := json.Unmarshal(markup, &m); err != nil {
				return nil, fmt.Errorf("клавиатура поста %d: %w", post.ID, err)
			}
			post.Markup = &m
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// UpsertWeatherButton сохраняет кнопку с живой подписью. На одном посте
// может быть несколько кнопок, они занимают общий ряд клавиатуры.
func (p *Postgres) UpsertWeatherButton(btn domain.WeatherButton) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO weather_buttons (chat_id, message_id, label)
VALUES ($1, $2, $3)
ON CONFLICT (chat_id, message_id, label) DO NOTHING
`, btn.ChatID, btn.MessageID, btn.Label)
	metrics.ObserveNetworkRequest("postgres", "weather_buttons_upsert", "weather_buttons", start, err)
	return err
}

// DeleteWeatherButton убирает все кнопки поста с обновления.
func (p *Postgres) DeleteWeatherButton(chatID, messageID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
DELETE FROM weather_buttons WHERE chat_id=$1 AND message_id=$2
`, chatID, messageID)
	metrics.ObserveNetworkRequest("postgres", "weather_buttons_delete", "weather_buttons", start, err)
	return err
}

// ListWeatherButtons возвращает все кнопки с живой подписью.
func (p *Postgres) ListWeatherButtons() ([]domain.WeatherButton, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT chat_id, message_id, label FROM weather_buttons ORDER BY id
`)
	metrics.ObserveNetworkRequest("postgres", "weather_buttons_list", "weather_buttons", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var buttons []domain.WeatherButton
	for rows.Next() {
		var btn domain.WeatherButton
		if err := rows.Scan(&btn.ChatID, &btn.MessageID, &btn.Label); err != nil {
			return nil, err
		}
		buttons = append(buttons, btn)
	}
	return buttons, rows.Err()
}

// UpsertPublishChannel реализует domain.PublishChannelRepo. Смена времени
// не сбрасывает дату последней публикации.
func (p *Postgres) UpsertPublishChannel(ch domain.PublishChannel) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO weather_publish_channels (channel_id, post_time)
VALUES ($1, $2)
ON CONFLICT (channel_id) DO UPDATE SET post_time = EXCLUDED.post_time
`, ch.ChannelID, ch.PostTime)
	metrics.ObserveNetworkRequest("postgres", "publish_channels_upsert", "weather_publish_channels", start, err)
	return err
}

// DeletePublishChannel выключает автопубликацию канала.
func (p *Postgres) DeletePublishChannel(channelID int64) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
DELETE FROM weather_publish_channels WHERE channel_id=$1
`, channelID)
	metrics.ObserveNetworkRequest("postgres", "publish_channels_delete", "weather_publish_channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPublishChannels возвращает каналы автопубликации с названиями.
func (p *Postgres) ListPublishChannels() ([]domain.PublishChannel, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT w.channel_id, w.post_time, w.last_published_at, COALESCE(c.title, '')
FROM weather_publish_channels w
LEFT JOIN channels c ON c.id = w.channel_id
ORDER BY w.channel_id
`)
	metrics.ObserveNetworkRequest("postgres", "publish_channels_list", "weather_publish_channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var channels []domain.PublishChannel
	for rows.Next() {
		var ch domain.PublishChannel
		if err := rows.Scan(&ch.ChannelID, &ch.PostTime, &ch.LastPublishedAt, &ch.Title); err != nil {
			return nil, err
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// StampPublished фиксирует момент автопубликации.
func (p *Postgres) StampPublished(channelID int64, at time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE weather_publish_channels SET last_published_at=$2 WHERE channel_id=$1
`, channelID, at)
	metrics.ObserveNetworkRequest("postgres", "publish_channels_stamp", "weather_publish_channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddAsset реализует domain.AssetRepo.
func (p *Postgres) AddAsset(asset domain.Asset) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	hashtags := asset.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO assets (message_id, hashtags, template)
VALUES ($1, $2, $3)
ON CONFLICT (message_id) DO UPDATE SET hashtags = EXCLUDED.hashtags, template = EXCLUDED.template
`, asset.MessageID, hashtags, asset.Template)
	metrics.ObserveNetworkRequest("postgres", "assets_upsert", "assets", start, err)
	return err
}

// NextAsset выбирает заготовку в два прохода: сначала самая старая
// неиспользованная с пересечением тегов, затем самая старая без тегов.
func (p *Postgres) NextAsset(tags []string) (domain.Asset, error) {
	if len(tags) > 0 {
		asset, err := p.pickAsset(`
SELECT message_id, hashtags, template, used_at
FROM assets WHERE used_at IS NULL AND hashtags && $1
ORDER BY message_id LIMIT 1
`, "assets_pick_tagged", tags)
		if err == nil {
			return asset, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Asset{}, err
		}
	}
	return p.pickAsset(`
SELECT message_id, hashtags, template, used_at
FROM assets WHERE used_at IS NULL AND cardinality(hashtags) = 0
ORDER BY message_id LIMIT 1
`, "assets_pick_untagged")
}

func (p *Postgres) pickAsset(query, op string, args ...any) (domain.Asset, error) {
	ctx, cancel := p.connCtx()
	defer cancel()

	var asset domain.Asset
	start := time.Now()
	err := p.pool.QueryRow(ctx, query, args...).Scan(&asset.MessageID, &asset.Hashtags, &asset.Template, &asset.UsedAt)
	metrics.ObserveNetworkRequest("postgres", op, "assets", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Asset{}, domain.ErrNotFound
	}
	return asset, err
}

// MarkAssetUsed помечает заготовку израсходованной.
func (p *Postgres) MarkAssetUsed(messageID int64, at time.Time) error {
	ctx, cancel := p.connCtx()
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE assets SET used_at=$2 WHERE message_id=$1
`, messageID, at)
	metrics.ObserveNetworkRequest("postgres", "assets_mark_used", "assets", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

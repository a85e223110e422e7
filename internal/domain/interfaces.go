package domain

import (
	"context"
	"time"
)

// CurrentWeather содержит текущие условия в точке.
type CurrentWeather struct {
	Temperature float64
	WeatherCode int
	WindSpeed   float64
	IsDay       bool
}

// SeaSample содержит одно почасовое значение температуры воды.
// Time — локальное время точки (timezone=auto).
type SeaSample struct {
	Time        time.Time
	Temperature float64
}

// WeatherProvider получает данные из внешнего источника прогноза.
type WeatherProvider interface {
	FetchCurrent(ctx context.Context, lat, lon float64) (CurrentWeather, error)
	FetchMarine(ctx context.Context, lat, lon float64) ([]SeaSample, error)
}

// ForwardedMessage содержит данные пересланного сообщения.
type ForwardedMessage struct {
	MessageID int64
	Text      string
	Caption   string
	Markup    *Markup
}

// Messenger выполняет операции Bot API, нужные бизнес-логике.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string) (int64, error)
	Forward(ctx context.Context, toChatID, fromChatID, messageID int64) (ForwardedMessage, error)
	Copy(ctx context.Context, toChatID, fromChatID, messageID int64, caption string) (int64, error)
	Delete(ctx context.Context, chatID, messageID int64) error
	EditText(ctx context.Context, chatID, messageID int64, text string, markup *Markup) error
	EditCaption(ctx context.Context, chatID, messageID int64, caption string, markup *Markup) error
	EditMarkup(ctx context.Context, chatID, messageID int64, markup *Markup) error
}

// UserRepo управляет операторами и очередью регистрации.
type UserRepo interface {
	GetUser(id int64) (User, error)
	CountUsers() (int, error)
	CreateUser(user User) error
	DeleteUser(id int64) error
	ListUsers() ([]User, error)
	ListSuperadmins() ([]User, error)
	UpdateTZOffset(id int64, offset string) error
	AddPending(user PendingUser) error
	IsPending(id int64) (bool, error)
	CountPending() (int, error)
	ListPendingUsers() ([]PendingUser, error)
	ApprovePending(id int64) (PendingUser, error)
	RejectPending(id int64) (PendingUser, error)
	IsRejected(id int64) (bool, error)
}

// ChannelRepo управляет каналами бота.
type ChannelRepo interface {
	UpsertChannel(ch Channel) error
	DeleteChannel(id int64) error
	ListChannels() ([]Channel, error)
}

// ScheduleRepo управляет отложенными публикациями.
type ScheduleRepo interface {
	CreateScheduled(posts []ScheduledPost) ([]int64, error)
	ListDue(now time.Time) ([]ScheduledPost, error)
	ListPending() ([]ScheduledPost, error)
	ListSentHistory(limit int) ([]ScheduledPost, error)
	MarkSent(id int64, at time.Time) error
	UpdatePublishAt(id int64, at time.Time) error
	DeleteScheduled(id int64) error
}

// WeatherRepo управляет городами и кэшем погоды.
type WeatherRepo interface {
	AddCity(city City) (int64, error)
	DeleteCity(id int64) error
	ListCities() ([]City, error)
	LatestHourReading(cityID int64) (HourReading, error)
	AppendHourReading(r HourReading) error
	UpsertDayReading(r DayReading) error
}

// SeaRepo управляет морями и кэшем температуры воды.
type SeaRepo interface {
	AddSea(sea Sea) (int64, error)
	DeleteSea(id int64) error
	ListSeas() ([]Sea, error)
	GetSeaReading(seaID int64) (SeaReading, error)
	UpsertSeaReading(r SeaReading) error
}

// PostRepo управляет зарегистрированными погодными постами и кнопками.
type PostRepo interface {
	UpsertWeatherPost(post WeatherPost) error
	DeleteWeatherPost(chatID, messageID int64) error
	ListWeatherPosts() ([]WeatherPost, error)
	UpsertWeatherButton(btn WeatherButton) error
	DeleteWeatherButton(chatID, messageID int64) error
	ListWeatherButtons() ([]WeatherButton, error)
}

// PublishChannelRepo управляет каналами ежедневной автопубликации.
type PublishChannelRepo interface {
	UpsertPublishChannel(ch PublishChannel) error
	DeletePublishChannel(channelID int64) error
	ListPublishChannels() ([]PublishChannel, error)
	StampPublished(channelID int64, at time.Time) error
}

// AssetRepo управляет заготовками из канала ассетов.
type AssetRepo interface {
	AddAsset(asset Asset) error
	NextAsset(tags []string) (Asset, error)
	MarkAssetUsed(messageID int64, at time.Time) error
}

// SettingsRepo хранит единичные настройки процесса.
type SettingsRepo interface {
	SetAssetChannel(channelID int64) error
	GetAssetChannel() (int64, error)
	SetLatestWeatherPost(ref MessageRef) error
	GetLatestWeatherPost() (MessageRef, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(key string, ttl time.Duration, fn func() error) error
	Set(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
}

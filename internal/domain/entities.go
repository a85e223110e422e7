package domain

import "time"

// User описывает оператора бота.
type User struct {
	ID           int64
	Username     string
	IsSuperadmin bool
	TZOffset     string
}

// PendingUser ожидает одобрения суперадмином.
type PendingUser struct {
	ID          int64
	Username    string
	RequestedAt time.Time
}

// RejectedUser получил отказ в доступе.
type RejectedUser struct {
	ID         int64
	Username   string
	RejectedAt time.Time
}

// Channel описывает канал, где бот является администратором.
type Channel struct {
	ID    int64
	Title string
}

// ScheduledPost представляет отложенную публикацию сообщения.
type ScheduledPost struct {
	ID           int64
	BatchID      string
	FromChatID   int64
	MessageID    int64
	TargetChatID int64
	PublishAt    time.Time
	Sent         bool
	SentAt       *time.Time
}

// City описывает точку сбора прогноза погоды.
type City struct {
	ID   int64
	Name string
	Lat  float64
	Lon  float64
}

// HourReading хранит одно часовое измерение погоды.
type HourReading struct {
	CityID      int64
	Timestamp   time.Time
	Temperature float64
	WeatherCode int
	WindSpeed   float64
	IsDay       bool
}

// DayReading хранит дневной срез погоды, перезаписывается при обновлении.
type DayReading struct {
	CityID      int64
	Day         time.Time
	Temperature float64
	WeatherCode int
	WindSpeed   float64
}

// Sea описывает точку сбора температуры воды.
type Sea struct {
	ID   int64
	Name string
	Lat  float64
	Lon  float64
}

// SeaReading хранит температуру воды на завтра по времени суток.
// Отсутствующие значения остаются nil.
type SeaReading struct {
	SeaID     int64
	UpdatedAt time.Time
	Current   *float64
	Morning   *float64
	Midday    *float64
	Evening   *float64
	Night     *float64
}

// WeatherPost описывает зарегистрированный пост с шапкой погоды.
type WeatherPost struct {
	ID          int64
	ChatID      int64
	MessageID   int64
	Template    string
	BaseText    string
	BaseCaption string
	Markup      *Markup
}

// WeatherButton описывает кнопку с живой подписью погоды на чужом посте.
type WeatherButton struct {
	ChatID    int64
	MessageID int64
	Label     string
}

// PublishChannel описывает канал с ежедневной автопубликацией погоды.
type PublishChannel struct {
	ChannelID       int64
	PostTime        string
	LastPublishedAt *time.Time
	Title           string
}

// Asset описывает изображение из канала заготовок.
type Asset struct {
	MessageID int64
	Hashtags  []string
	Template  string
	UsedAt    *time.Time
}

// Button описывает одну кнопку инлайн-клавиатуры.
type Button struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

// Markup описывает инлайн-клавиатуру сообщения. Формат JSON совпадает
// с reply_markup Bot API, поэтому значение хранится и передаётся как есть.
type Markup struct {
	InlineKeyboard [][]Button `json:"inline_keyboard"`
}

// MessageRef указывает на сообщение в чате или канале.
type MessageRef struct {
	ChatID    int64
	MessageID int64
}

package config

// Config is the whole bot configuration. The file on disk may be YAML or
// JSON; both are decoded strictly so typos in keys fail fast instead of
// silently falling back to defaults.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Content  ContentConfig  `json:"content"`
	Course   CourseConfig   `json:"course"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OwnerChatID receives operational alerts (late deliveries, tick
	// failures). 0 disables alerts.
	OwnerChatID int64 `json:"owner_chat_id,omitempty"`

	// RatePerSec caps outgoing sends (Telegram bot API limit headroom).
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// SendTimeout is a Go duration string bounding one send call.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite participant store.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ContentConfig points at the curriculum file (lessons, silent days,
// per-tier task texts). The file is watched and hot-reloaded.
type ContentConfig struct {
	Path string `json:"path"`
}

// CourseConfig holds the platform scheduling defaults. Delivery time and
// reminder window can be overridden per participant.
type CourseConfig struct {
	// Length is the curriculum length in days.
	Length int `json:"length,omitempty"`

	// Timezone is a zone spec: IANA name, numeric offset ("+03:00",
	// "UTC+3") or a known alias. Invalid values degrade to UTC.
	Timezone string `json:"timezone,omitempty"`

	// DeliveryTime is the default local lesson delivery time ("HH:MM").
	DeliveryTime string `json:"delivery_time,omitempty"`

	// ReminderWindow is the default daily nudge window ("HH:MM-HH:MM").
	ReminderWindow string `json:"reminder_window,omitempty"`

	// DeliveryTick / ReminderTick are Go duration strings for the two
	// polling loops.
	DeliveryTick string `json:"delivery_tick,omitempty"`
	ReminderTick string `json:"reminder_tick,omitempty"`

	// MaintenanceTime is the local time ("HH:MM") of the daily
	// housekeeping job (delivery-log pruning, daily totals).
	MaintenanceTime string `json:"maintenance_time,omitempty"`

	// DeliveryLogRetentionDays bounds the delivery audit log.
	DeliveryLogRetentionDays int `json:"delivery_log_retention_days,omitempty"`
}

// Defaults (applied by the composition root when fields are omitted):
//   - course.length: 30
//   - course.delivery_time: "08:30"
//   - course.reminder_window: "09:00-21:00"
//   - course.delivery_tick / reminder_tick: "5m"
//   - course.maintenance_time: "03:30"
//   - course.delivery_log_retention_days: 90
//   - telegram.rate_per_sec: 25
//   - telegram.send_timeout: "10s"
const (
	DefaultCourseLength     = 30
	DefaultDeliveryTime     = "08:30"
	DefaultReminderWindow   = "09:00-21:00"
	DefaultTick             = "5m"
	DefaultMaintenanceTime  = "03:30"
	DefaultLogRetentionDays = 90
	DefaultSendRatePerSec   = 25
	DefaultSendTimeout      = "10s"
)

package app

import (
	"context"
	"testing"
	"time"

	"lessonbot/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "123:abc"},
		Storage:  config.StorageConfig{Path: "./test.db"},
		Content:  config.ContentConfig{Path: "./curriculum.yaml"},
	}
}

func TestBuildSettingsDefaults(t *testing.T) {
	t.Parallel()
	settings, maint := buildSettings(baseConfig())

	if settings.CourseLength != config.DefaultCourseLength {
		t.Errorf("course length = %d", settings.CourseLength)
	}
	if settings.Zone != time.UTC {
		t.Errorf("zone = %v, want UTC", settings.Zone)
	}
	if got := settings.DeliveryTime.String(); got != config.DefaultDeliveryTime {
		t.Errorf("delivery time = %q", got)
	}
	if got := settings.ReminderWindow.String(); got != config.DefaultReminderWindow {
		t.Errorf("reminder window = %q", got)
	}
	if settings.DeliveryTick != 5*time.Minute || settings.ReminderTick != 5*time.Minute {
		t.Errorf("ticks = %v / %v", settings.DeliveryTick, settings.ReminderTick)
	}
	if maint.LogRetention != 90*24*time.Hour {
		t.Errorf("retention = %v", maint.LogRetention)
	}
	if got := maint.At.String(); got != config.DefaultMaintenanceTime {
		t.Errorf("maintenance at = %q", got)
	}
}

func TestBuildSettingsOverrides(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Course = config.CourseConfig{
		Length:                   14,
		Timezone:                 "+03:00",
		DeliveryTime:             "07:00",
		ReminderWindow:           "10:00-22:00",
		DeliveryTick:             "1m",
		ReminderTick:             "2m",
		MaintenanceTime:          "04:00",
		DeliveryLogRetentionDays: 7,
	}
	cfg.Telegram.SendTimeout = "3s"

	settings, maint := buildSettings(cfg)

	if settings.CourseLength != 14 {
		t.Errorf("course length = %d", settings.CourseLength)
	}
	_, offset := time.Now().In(settings.Zone).Zone()
	if offset != 3*3600 {
		t.Errorf("zone offset = %d, want +3h", offset)
	}
	if settings.DeliveryTime.String() != "07:00" || settings.ReminderWindow.String() != "10:00-22:00" {
		t.Errorf("time/window = %v / %v", settings.DeliveryTime, settings.ReminderWindow)
	}
	if settings.DeliveryTick != time.Minute || settings.ReminderTick != 2*time.Minute {
		t.Errorf("ticks = %v / %v", settings.DeliveryTick, settings.ReminderTick)
	}
	if settings.SendTimeout != 3*time.Second {
		t.Errorf("send timeout = %v", settings.SendTimeout)
	}
	if maint.At.String() != "04:00" || maint.LogRetention != 7*24*time.Hour {
		t.Errorf("maintenance = %+v", maint)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"valid", func(c *config.Config) {}, false},
		{"missing token", func(c *config.Config) { c.Telegram.Token = "" }, true},
		{"missing storage path", func(c *config.Config) { c.Storage.Path = "" }, true},
		{"missing content path", func(c *config.Config) { c.Content.Path = "" }, true},
		{"bad delivery time", func(c *config.Config) { c.Course.DeliveryTime = "25:00" }, true},
		{"bad window", func(c *config.Config) { c.Course.ReminderWindow = "nine to five" }, true},
		{"bad tick", func(c *config.Config) { c.Course.DeliveryTick = "fast" }, true},
		{"negative length", func(c *config.Config) { c.Course.Length = -1 }, true},
		{"optional fields empty", func(c *config.Config) { c.Course = config.CourseConfig{} }, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			tc.mutate(cfg)
			err := validate(context.Background(), cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

package config

import "time"

type AppConfig struct {
	DBDriver      string              `yaml:"db_driver" env:"SHIFTRELAY_DB_DRIVER" env-default:"sqlite"`
	DBURL         string              `yaml:"db_url" env:"SHIFTRELAY_DB_URL" env-default:"data/shiftrelay.db"`
	ListenAddr    string              `yaml:"listen_addr" env:"SHIFTRELAY_LISTEN_ADDR" env-default:"0.0.0.0:8080"`
	AppEnv        string              `yaml:"app_env" env:"SHIFTRELAY_APP_ENV"`
	BaseURL       string              `yaml:"base_url" env:"SHIFTRELAY_BASE_URL" env-default:"http://localhost:8080"`
	Mail          MailConfig          `yaml:"mail"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
}

type MailConfig struct {
	Host     string `yaml:"host" env:"SHIFTRELAY_MAIL_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"SHIFTRELAY_MAIL_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SHIFTRELAY_MAIL_USERNAME"`
	Password string `yaml:"password" env:"SHIFTRELAY_MAIL_PASSWORD"`
	From     string `yaml:"from" env:"SHIFTRELAY_MAIL_FROM" env-default:"handover@localhost"`
	StartTLS bool   `yaml:"starttls" env:"SHIFTRELAY_MAIL_STARTTLS" env-default:"true"`
}

type NotificationsConfig struct {
	ReminderThresholdMinutes   int    `yaml:"reminder_threshold_minutes" env:"SHIFTRELAY_NOTIFY_REMINDER_THRESHOLD_MINUTES" env-default:"30"`
	ReminderRepeatMinutes      int    `yaml:"reminder_repeat_minutes" env:"SHIFTRELAY_NOTIFY_REMINDER_REPEAT_MINUTES" env-default:"30"`
	EscalationThresholdMinutes int    `yaml:"escalation_threshold_minutes" env:"SHIFTRELAY_NOTIFY_ESCALATION_THRESHOLD_MINUTES" env-default:"120"`
	TeamEmail                  string `yaml:"team_email" env:"SHIFTRELAY_NOTIFY_TEAM_EMAIL"`
	DispatchTimeoutSec         int    `yaml:"dispatch_timeout_sec" env:"SHIFTRELAY_NOTIFY_DISPATCH_TIMEOUT" env-default:"10"`
	SendAcceptanceConfirmation bool   `yaml:"send_acceptance_confirmation" env:"SHIFTRELAY_NOTIFY_SEND_ACCEPTANCE_CONFIRMATION" env-default:"false"`
	SendRejectionNotification  bool   `yaml:"send_rejection_notification" env:"SHIFTRELAY_NOTIFY_SEND_REJECTION_NOTIFICATION" env-default:"false"`
}

type SchedulerConfig struct {
	Enabled        bool   `yaml:"enabled" env:"SHIFTRELAY_SCHEDULER_ENABLED" env-default:"true"`
	ReminderCron   string `yaml:"reminder_cron" env:"SHIFTRELAY_SCHEDULER_REMINDER_CRON" env-default:"*/5 * * * *"`
	EscalationCron string `yaml:"escalation_cron" env:"SHIFTRELAY_SCHEDULER_ESCALATION_CRON" env-default:"*/10 * * * *"`
	MaxConcurrent  int    `yaml:"max_concurrent" env:"SHIFTRELAY_SCHEDULER_MAX_CONCURRENT" env-default:"8"`
}

func (c *NotificationsConfig) ReminderThreshold() time.Duration {
	if c.ReminderThresholdMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ReminderThresholdMinutes) * time.Minute
}

func (c *NotificationsConfig) ReminderRepeat() time.Duration {
	if c.ReminderRepeatMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ReminderRepeatMinutes) * time.Minute
}

func (c *NotificationsConfig) EscalationThreshold() time.Duration {
	if c.EscalationThresholdMinutes <= 0 {
		return 120 * time.Minute
	}
	return time.Duration(c.EscalationThresholdMinutes) * time.Minute
}

func (c *NotificationsConfig) DispatchTimeout() time.Duration {
	if c.DispatchTimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.DispatchTimeoutSec) * time.Second
}

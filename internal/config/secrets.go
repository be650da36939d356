package config

// redacted replaces secret values when the configuration is logged.
const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: every credential-bearing
// field is masked and the events slice is duplicated so the copy cannot
// mutate the original.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	secrets := []*string{
		&out.Postgres.DSN,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Security.MasterKey,
		&out.Notify.TelegramToken,
		&out.Notify.DiscordWebhookURL,
	}
	for _, s := range secrets {
		if *s != "" {
			*s = redacted
		}
	}

	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	return out
}

package config

import (
	"net/url"
	"slices"
)

const (
	redacted = "***"
	// urlRedacted needs no percent-encoding inside a URL.
	urlRedacted = "redacted"
)

// RedactedConfig returns a copy of cfg that is safe to print or log. Plain
// secrets become "***"; connection URLs keep their host so the output still
// shows where the process connects.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Supabase.DSN = redactURL(cfg.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	out.Redis.Addr = redactURL(cfg.Redis.Addr)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.AI.APIKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	out.Notify.DiscordWebhookURL = redactURL(cfg.Notify.DiscordWebhookURL)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL masks the password of a URL and its path, which carries the token
// for webhook URLs. Strings that are not absolute URLs (host:port, key=value
// DSNs) are fully masked unless they hold no credentials at all.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		if isHostPort(raw) {
			return raw
		}
		return redacted
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), urlRedacted)
		}
	}
	if u.Scheme == "https" || u.Scheme == "http" {
		if u.Path != "" && u.Path != "/" {
			u.Path = "/" + urlRedacted
		}
	}
	u.RawQuery = ""
	return u.String()
}

func isHostPort(s string) bool {
	for _, r := range s {
		if r == '@' || r == '=' || r == ' ' || r == '/' {
			return false
		}
	}
	return true
}

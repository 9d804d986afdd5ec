package config

import (
	"os"
	"strings"
	"unicode/utf8"
)

// Setting is the display status of one sensitive setting.
type Setting struct {
	Name    string `json:"name"`
	EnvVar  string `json:"env_var"`
	From    string `json:"from"` // "env", "file" or "unset"
	Display string `json:"display,omitempty"`
}

type sensitiveSetting struct {
	name   string
	envVar string
	value  func(*Config) string
	redact func(string) string
}

var sensitiveSettings = []sensitiveSetting{
	{
		name:   "registry.user_agent",
		envVar: "EDGARSYNC_REGISTRY_USER_AGENT",
		value:  func(c *Config) string { return c.Registry.UserAgent },
		redact: redactContact,
	},
	{
		name:   "redis.password",
		envVar: "EDGARSYNC_REDIS_PASSWORD",
		value:  func(c *Config) string { return c.Redis.Password },
		redact: func(string) string { return "********" },
	},
}

// Settings reports where each sensitive setting comes from, redacted for display.
func Settings(cfg *Config) []Setting {
	out := make([]Setting, 0, len(sensitiveSettings))
	for _, s := range sensitiveSettings {
		st := Setting{Name: s.name, EnvVar: s.envVar, From: "unset"}
		if v := s.value(cfg); v != "" {
			st.From = "file"
			if os.Getenv(s.envVar) != "" {
				st.From = "env"
			}
			st.Display = s.redact(v)
		}
		out = append(out, st)
	}
	return out
}

// redactContact keeps the requester name and mail domain of a User-Agent,
// hiding the mailbox: "Acme ops@acme.io" becomes "Acme o***@acme.io".
func redactContact(ua string) string {
	fields := strings.Fields(ua)
	for i, f := range fields {
		at := strings.LastIndex(f, "@")
		if at < 0 {
			continue
		}
		local := strings.TrimLeft(f[:at], "<")
		open := f[:at-len(local)]
		r, _ := utf8.DecodeRuneInString(local)
		lead := ""
		if r != utf8.RuneError {
			lead = string(r)
		}
		fields[i] = open + lead + "***" + f[at:]
	}
	return strings.Join(fields, " ")
}

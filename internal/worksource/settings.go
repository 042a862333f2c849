package worksource

import (
	"encoding/base64"
	"time"
)

// Settings is immutable once the Source has started (spec.md §3); changing
// any field that affects host/port/connection counts after start must go
// through Source.Reconfigure, which triggers an asynchronous restart.
type Settings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	UserAgent string `yaml:"userAgent"`

	GetworkTimeout          time.Duration `yaml:"getworkTimeout"`
	SendShareTimeout        time.Duration `yaml:"sendshareTimeout"`
	LongPollConnectTimeout  time.Duration `yaml:"longPollConnectTimeout"`
	LongPollResponseTimeout time.Duration `yaml:"longPollResponseTimeout"`

	GetworkConnections  int `yaml:"getworkConnections"`
	UploadConnections   int `yaml:"uploadConnections"`
	LongPollConnections int `yaml:"longPollConnections"`

	ExpiryMargin time.Duration `yaml:"expiryMarginSeconds"`
}

// DefaultSettings returns the spec.md §3 defaults.
func DefaultSettings() Settings {
	return Settings{
		Path:                    "/",
		UserAgent:               "getwork-worksource/1.0",
		GetworkTimeout:          3 * time.Second,
		SendShareTimeout:        5 * time.Second,
		LongPollConnectTimeout:  10 * time.Second,
		LongPollResponseTimeout: 1800 * time.Second,
		GetworkConnections:      1,
		UploadConnections:       1,
		LongPollConnections:     1,
		ExpiryMargin:            5 * time.Second,
	}
}

// WithDefaults fills any zero-valued field of s with the spec.md §3
// default, leaving explicitly-set fields untouched.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings()
	if s.Path == "" {
		s.Path = d.Path
	}
	if s.UserAgent == "" {
		s.UserAgent = d.UserAgent
	}
	if s.GetworkTimeout == 0 {
		s.GetworkTimeout = d.GetworkTimeout
	}
	if s.SendShareTimeout == 0 {
		s.SendShareTimeout = d.SendShareTimeout
	}
	if s.LongPollConnectTimeout == 0 {
		s.LongPollConnectTimeout = d.LongPollConnectTimeout
	}
	if s.LongPollResponseTimeout == 0 {
		s.LongPollResponseTimeout = d.LongPollResponseTimeout
	}
	if s.GetworkConnections == 0 {
		s.GetworkConnections = d.GetworkConnections
	}
	if s.UploadConnections == 0 {
		s.UploadConnections = d.UploadConnections
	}
	if s.LongPollConnections == 0 {
		s.LongPollConnections = d.LongPollConnections
	}
	if s.ExpiryMargin == 0 {
		s.ExpiryMargin = d.ExpiryMargin
	}
	return s
}

// AuthorizationHeader precomputes the HTTP Basic header value, or "" when
// no credentials are configured.
func (s Settings) AuthorizationHeader() string {
	if s.Username == "" && s.Password == "" {
		return ""
	}
	raw := s.Username + ":" + s.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

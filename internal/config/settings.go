package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chimera-pool/getwork-worksource/internal/worksource"
)

// LoadSettings reads worksource.Settings from a YAML file and then applies
// environment-variable overrides via the GetEnv* helpers in env.go, mirroring
// cmd/stratum/main.go's loadConfig() composition (file defaults, env
// overrides, no on-disk format of the core's own invention — spec.md §1
// places settings loading itself out of the core's scope).
func LoadSettings(path string) (worksource.Settings, error) {
	var s worksource.Settings

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	s.Host = GetEnv("WORKSOURCE_HOST", s.Host)
	s.Path = GetEnv("WORKSOURCE_PATH", s.Path)
	s.Username = GetEnv("WORKSOURCE_USERNAME", s.Username)
	s.Password = GetEnv("WORKSOURCE_PASSWORD", s.Password)
	s.UserAgent = GetEnv("WORKSOURCE_USER_AGENT", s.UserAgent)
	s.Port = GetEnvInt("WORKSOURCE_PORT", s.Port)
	s.GetworkConnections = GetEnvInt("WORKSOURCE_GETWORK_CONNECTIONS", s.GetworkConnections)
	s.UploadConnections = GetEnvInt("WORKSOURCE_UPLOAD_CONNECTIONS", s.UploadConnections)
	s.LongPollConnections = GetEnvInt("WORKSOURCE_LONGPOLL_CONNECTIONS", s.LongPollConnections)
	s.GetworkTimeout = GetEnvDuration("WORKSOURCE_GETWORK_TIMEOUT", s.GetworkTimeout)
	s.SendShareTimeout = GetEnvDuration("WORKSOURCE_SENDSHARE_TIMEOUT", s.SendShareTimeout)
	s.LongPollConnectTimeout = GetEnvDuration("WORKSOURCE_LONGPOLL_CONNECT_TIMEOUT", s.LongPollConnectTimeout)
	s.LongPollResponseTimeout = GetEnvDuration("WORKSOURCE_LONGPOLL_RESPONSE_TIMEOUT", s.LongPollResponseTimeout)
	s.ExpiryMargin = GetEnvDuration("WORKSOURCE_EXPIRY_MARGIN", s.ExpiryMargin)

	return s.WithDefaults(), nil
}

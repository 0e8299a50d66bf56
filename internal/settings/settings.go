// Package settings holds the daemon configuration: where the Tridentstream
// server lives, how to authenticate, and the stable identity this player
// registers under.
package settings

import (
	"fmt"
	"os"
	"strconv"
)

// Settings is the daemon configuration. The zero value is valid but not
// Ready; the daemon idles until a server URL and credentials appear.
type Settings struct {
	URL       string `yaml:"url"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	VerifySSL bool   `yaml:"verify_ssl"`
	PlayerID  string `yaml:"player_id"`
}

// Ready reports whether enough configuration exists to reach the server.
func (s Settings) Ready() bool {
	return s.URL != "" && s.Username != "" && s.Password != ""
}

// Fingerprint identifies the connection-relevant part of the settings. The
// supervisor tears a live session down when it changes. The player id is
// deliberately excluded; it never changes once generated.
func (s Settings) Fingerprint() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%t", s.URL, s.Username, s.Password, s.VerifySSL)
}

// applyEnv overlays TS_* environment variables on top of the file-backed
// values. Environment wins; it is how containerized deployments configure
// the daemon without a file.
func (s Settings) applyEnv() Settings {
	if v := os.Getenv("TS_URL"); v != "" {
		s.URL = v
	}
	if v := os.Getenv("TS_USERNAME"); v != "" {
		s.Username = v
	}
	if v := os.Getenv("TS_PASSWORD"); v != "" {
		s.Password = v
	}
	if v := os.Getenv("TS_VERIFY_SSL"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			s.VerifySSL = parsed
		}
	}
	if v := os.Getenv("TS_PLAYER_ID"); v != "" {
		s.PlayerID = v
	}
	return s
}

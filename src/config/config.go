// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// TorConfig holds the upstream Tor SOCKS endpoint per [TOR]. Managed and
// DataDir are onionbridge extensions: when Managed is set, the Coordinator
// launches its own bine-controlled Tor process on Port instead of
// expecting one to already be running.
type TorConfig struct {
	IP      string `ini:"IP"`
	Port    int    `ini:"Port"`
	Timeout int    `ini:"Timeout"`
	Managed bool   `ini:"Managed"`
	DataDir string `ini:"DataDir"`
}

// HTTPConfig holds the plain-HTTP ingress bind per [HTTP].
type HTTPConfig struct {
	IP   string `ini:"IP"`
	Port int    `ini:"Port"`
}

// DNSConfig holds the wildcard suffix and list file paths per [DNS].
type DNSConfig struct {
	Suffix    string `ini:"Suffix"`
	Blacklist string `ini:"Blacklist"`
	Alias     string `ini:"Alias"`
}

// ControlConfig holds the optional control-port settings per [Control].
type ControlConfig struct {
	Enabled  bool
	IP       string `ini:"IP"`
	Port     int    `ini:"Port"`
	Password string `ini:"Password"`
	Cookie   string `ini:"Cookie"`
}

// SecurityConfig holds header-leak hardening per [Security].
type SecurityConfig struct {
	NonAnonymousHeaders []string
}

// ReloadConfig drives the optional periodic background reload of the lists
// (supplements the operator-triggered BLRELOAD/ALRELOAD control commands).
type ReloadConfig struct {
	Enabled  bool   `ini:"Enabled"`
	Interval string `ini:"Interval"`
}

// ClusterConfig enables a Redis-backed halt flag and AUTH throttle so that
// several onionbridge processes behind the same suffix share control state.
type ClusterConfig struct {
	Enabled  bool   `ini:"Enabled"`
	Addr     string `ini:"RedisAddr"`
	Password string `ini:"RedisPassword"`
	DB       int    `ini:"RedisDB"`
	Prefix   string `ini:"Prefix"`
}

// StatusConfig exposes an optional loopback HTTP endpoint for Prometheus
// scraping and a liveness probe; it never serves onion traffic.
type StatusConfig struct {
	Enabled bool   `ini:"Enabled"`
	IP      string `ini:"IP"`
	Port    int    `ini:"Port"`
}

// LogConfig configures the rotating structured logger.
type LogConfig struct {
	Level    string `ini:"Level"`
	File     string `ini:"File"`
	MaxSize  string `ini:"MaxSize"`
	Rotate   string `ini:"Rotate"`
	Compress bool   `ini:"Compress"`
	Keep     int    `ini:"Keep"`
}

// Config is the full on-disk representation of server.ini.
type Config struct {
	Tor      TorConfig
	HTTP     HTTPConfig
	DNS      DNSConfig
	Control  ControlConfig
	Security SecurityConfig
	Reload   ReloadConfig
	Cluster  ClusterConfig
	Status   StatusConfig
	Log      LogConfig
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Tor: TorConfig{
			IP:      "127.0.0.1",
			Port:    9050,
			Timeout: 5000,
		},
		HTTP: HTTPConfig{
			IP:   "127.0.0.1",
			Port: 12243,
		},
		Control: ControlConfig{
			Port: 12244,
		},
		Reload: ReloadConfig{
			Enabled:  false,
			Interval: "5m",
		},
		Status: StatusConfig{
			Enabled: false,
			IP:      "127.0.0.1",
			Port:    12245,
		},
		Log: LogConfig{
			Level:   "info",
			MaxSize: "50MB",
			Rotate:  "daily",
			Keep:    7,
		},
	}
}

// Load reads server.ini from path, falling back to Default() plus a freshly
// written template file when it does not yet exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()

	if sec, err := file.GetSection("TOR"); err == nil {
		if err := sec.MapTo(&cfg.Tor); err != nil {
			return nil, fmt.Errorf("[TOR]: %w", err)
		}
	}
	if sec, err := file.GetSection("HTTP"); err == nil {
		if err := sec.MapTo(&cfg.HTTP); err != nil {
			return nil, fmt.Errorf("[HTTP]: %w", err)
		}
	}
	if sec, err := file.GetSection("DNS"); err == nil {
		if err := sec.MapTo(&cfg.DNS); err != nil {
			return nil, fmt.Errorf("[DNS]: %w", err)
		}
	}
	if sec, err := file.GetSection("Control"); err == nil {
		cfg.Control.Enabled = true
		if err := sec.MapTo(&cfg.Control); err != nil {
			return nil, fmt.Errorf("[Control]: %w", err)
		}
	}
	if sec, err := file.GetSection("Security"); err == nil {
		if key := sec.Key("NonAnonymousHeaders").String(); key != "" {
			cfg.Security.NonAnonymousHeaders = splitCSV(key)
		}
	}
	if sec, err := file.GetSection("Reload"); err == nil {
		if err := sec.MapTo(&cfg.Reload); err != nil {
			return nil, fmt.Errorf("[Reload]: %w", err)
		}
	}
	if sec, err := file.GetSection("Cluster"); err == nil {
		if err := sec.MapTo(&cfg.Cluster); err != nil {
			return nil, fmt.Errorf("[Cluster]: %w", err)
		}
	}
	if sec, err := file.GetSection("Status"); err == nil {
		if err := sec.MapTo(&cfg.Status); err != nil {
			return nil, fmt.Errorf("[Status]: %w", err)
		}
	}
	if sec, err := file.GetSection("Log"); err == nil {
		if err := sec.MapTo(&cfg.Log); err != nil {
			return nil, fmt.Errorf("[Log]: %w", err)
		}
	}

	return cfg, cfg.Validate()
}

// Save serializes cfg back to path as INI.
func Save(cfg *Config, path string) error {
	file := ini.Empty()

	if err := file.Section("TOR").ReflectFrom(&cfg.Tor); err != nil {
		return err
	}
	if err := file.Section("HTTP").ReflectFrom(&cfg.HTTP); err != nil {
		return err
	}
	if err := file.Section("DNS").ReflectFrom(&cfg.DNS); err != nil {
		return err
	}
	if cfg.Control.Enabled {
		if err := file.Section("Control").ReflectFrom(&cfg.Control); err != nil {
			return err
		}
	}
	if len(cfg.Security.NonAnonymousHeaders) > 0 {
		file.Section("Security").Key("NonAnonymousHeaders").SetValue(strings.Join(cfg.Security.NonAnonymousHeaders, ","))
	}
	if err := file.Section("Reload").ReflectFrom(&cfg.Reload); err != nil {
		return err
	}
	if err := file.Section("Cluster").ReflectFrom(&cfg.Cluster); err != nil {
		return err
	}
	if err := file.Section("Status").ReflectFrom(&cfg.Status); err != nil {
		return err
	}
	if err := file.Section("Log").ReflectFrom(&cfg.Log); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return file.SaveTo(path)
}

// Validate checks the documented invariants and returns a descriptive error
// for the first violation found.
func (c *Config) Validate() error {
	if net.ParseIP(c.Tor.IP) == nil {
		return fmt.Errorf("[TOR] IP %q is not a valid IP literal", c.Tor.IP)
	}
	if c.Tor.Port < 1 || c.Tor.Port > 65534 {
		return fmt.Errorf("[TOR] Port %d out of range 1..65534", c.Tor.Port)
	}
	if c.Tor.Timeout < 1 {
		return fmt.Errorf("[TOR] Timeout must be >= 1ms")
	}
	suffix := strings.Trim(c.DNS.Suffix, ".")
	if suffix == "" {
		return fmt.Errorf("[DNS] Suffix must not be empty")
	}
	if strings.HasPrefix(c.DNS.Suffix, ".") || strings.HasSuffix(c.DNS.Suffix, ".") {
		return fmt.Errorf("[DNS] Suffix must not have a leading or trailing dot")
	}
	if c.Control.Enabled && c.Control.Password == "" && c.Control.Cookie == "" {
		return fmt.Errorf("[Control] at least one of Password or Cookie must be set")
	}
	return nil
}

// TorTimeout returns the configured Tor connect timeout as a Duration.
func (c *Config) TorTimeout() time.Duration {
	return time.Duration(c.Tor.Timeout) * time.Millisecond
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

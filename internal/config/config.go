// This file defines the configuration structure for the application.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Library struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"library"`
	Queue struct {
		PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
		RetryDelaySeconds   int `mapstructure:"retry_delay_seconds"`
		MaxAttempts         int `mapstructure:"max_attempts"`
	} `mapstructure:"queue"`
	Watcher struct {
		Enabled            bool `mapstructure:"enabled"`
		QuietWindowSeconds int  `mapstructure:"quiet_window_seconds"`
	} `mapstructure:"watcher"`
	WatchPolicy WatchPolicy `mapstructure:"watch_policy"`
	Schedule    struct {
		RunIntervalMinutes int `mapstructure:"run_interval_minutes"`
	} `mapstructure:"schedule"`
	Playlists []Playlist `mapstructure:"playlists"`
}

// WatchPolicy controls the watcher's adaptive polling schedule.
type WatchPolicy struct {
	MinIntervalMinutes int      `mapstructure:"min_interval_minutes"`
	MaxIntervalMinutes int      `mapstructure:"max_interval_minutes"`
	IdleBackoffFactor  int      `mapstructure:"idle_backoff_factor"`
	ActiveResetMinutes int      `mapstructure:"active_reset_minutes"`
	Downtime           Downtime `mapstructure:"downtime"`
}

// Downtime is a daily wall-clock window during which the watcher is paused.
type Downtime struct {
	Enabled  bool   `mapstructure:"enabled"`
	Start    string `mapstructure:"start"` // "HH:MM"
	End      string `mapstructure:"end"`   // "HH:MM"
	Timezone string `mapstructure:"timezone"`
}

// Playlist is one tracked playlist.
type Playlist struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Source    string `mapstructure:"source"`     // upstream service, e.g. "youtube"
	Mode      string `mapstructure:"mode"`       // "full" or "subscribe"
	MediaType string `mapstructure:"media_type"` // "audio" or "video"
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")

	// Environment variable overrides, e.g. RETREIVR_DATABASE_PATH overrides
	// the `database.path` key.
	viper.SetEnvPrefix("RETREIVR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error and use defaults
		} else {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.normalize()

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("port", 8080)
	viper.SetDefault("database.path", "./retreivr.db")
	viper.SetDefault("library.path", "./archive")
	viper.SetDefault("queue.poll_interval_seconds", 5)
	viper.SetDefault("queue.retry_delay_seconds", 60)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("watcher.enabled", true)
	viper.SetDefault("watcher.quiet_window_seconds", 60)
	viper.SetDefault("watch_policy.min_interval_minutes", 5)
	viper.SetDefault("watch_policy.max_interval_minutes", 360)
	viper.SetDefault("watch_policy.idle_backoff_factor", 2)
	viper.SetDefault("watch_policy.active_reset_minutes", 5)
	viper.SetDefault("watch_policy.downtime.enabled", false)
	viper.SetDefault("watch_policy.downtime.start", "01:00")
	viper.SetDefault("watch_policy.downtime.end", "07:00")
	viper.SetDefault("watch_policy.downtime.timezone", "local")
	viper.SetDefault("schedule.run_interval_minutes", 0)
}

// Validate enforces the invariants this configuration must satisfy before
// the queue and watcher consume it.
func (c *Config) Validate() error {
	p := c.WatchPolicy
	if p.MinIntervalMinutes < 1 {
		return fmt.Errorf("watch_policy.min_interval_minutes must be >= 1")
	}
	if p.MaxIntervalMinutes < 1 {
		return fmt.Errorf("watch_policy.max_interval_minutes must be >= 1")
	}
	if p.MaxIntervalMinutes < p.MinIntervalMinutes {
		return fmt.Errorf("watch_policy.max_interval_minutes must be >= min_interval_minutes")
	}
	if p.IdleBackoffFactor < 1 {
		return fmt.Errorf("watch_policy.idle_backoff_factor must be >= 1")
	}
	if p.ActiveResetMinutes < 1 {
		return fmt.Errorf("watch_policy.active_reset_minutes must be >= 1")
	}
	if p.Downtime.Enabled {
		if _, err := time.Parse("15:04", p.Downtime.Start); err != nil {
			return fmt.Errorf("watch_policy.downtime.start must be HH:MM: %w", err)
		}
		if _, err := time.Parse("15:04", p.Downtime.End); err != nil {
			return fmt.Errorf("watch_policy.downtime.end must be HH:MM: %w", err)
		}
	}
	if c.Queue.PollIntervalSeconds < 1 {
		return fmt.Errorf("queue.poll_interval_seconds must be >= 1")
	}
	if c.Queue.RetryDelaySeconds < 0 {
		return fmt.Errorf("queue.retry_delay_seconds must be >= 0")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be >= 1")
	}
	if c.Watcher.QuietWindowSeconds < 1 {
		return fmt.Errorf("watcher.quiet_window_seconds must be >= 1")
	}
	for _, pl := range c.Playlists {
		if strings.TrimSpace(pl.ID) == "" {
			return fmt.Errorf("playlists entries must have an id")
		}
		if strings.TrimSpace(pl.URL) == "" {
			return fmt.Errorf("playlist %s: url is required", pl.ID)
		}
		if pl.Mode != "" && pl.Mode != "full" && pl.Mode != "subscribe" {
			return fmt.Errorf("playlist %s: mode must be \"full\" or \"subscribe\"", pl.ID)
		}
		if pl.MediaType != "" && pl.MediaType != "audio" && pl.MediaType != "video" {
			return fmt.Errorf("playlist %s: media_type must be \"audio\" or \"video\"", pl.ID)
		}
	}
	return nil
}

// normalize fills per-playlist defaults that Validate leaves optional.
func (c *Config) normalize() {
	for i := range c.Playlists {
		pl := &c.Playlists[i]
		if pl.Mode == "" {
			pl.Mode = "full"
		}
		if pl.Source == "" {
			pl.Source = "youtube"
		}
		if pl.MediaType == "" {
			pl.MediaType = "audio"
		}
		if pl.Name == "" {
			pl.Name = pl.ID
		}
	}
}

// Watch re-reads the config file whenever it changes on disk and hands the
// new snapshot to onChange. Invalid edits are logged and skipped; the last
// good configuration stays in effect.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("Config file changed: %s", e.Name)
		var config Config
		if err := viper.Unmarshal(&config); err != nil {
			log.Printf("Config reload failed, keeping last good config: %v", err)
			return
		}
		if err := config.Validate(); err != nil {
			log.Printf("Config reload rejected, keeping last good config: %v", err)
			return
		}
		config.normalize()
		onChange(&config)
	})
	viper.WatchConfig()
}

package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"mtfsignal/internal/logger"
)

// Watch reloads path whenever it is written and passes the fresh config to
// fn. A file that no longer loads is logged and ignored. Running pipelines
// keep the config they were built with; callers apply only what is safe to
// change at runtime, such as the log level.
func Watch(path string, fn func(*Config)) error {
	if fn == nil {
		return fmt.Errorf("watch requires a callback")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("[config] reload %s failed: %v", evt.Name, err)
			return
		}
		logger.Infof("[config] reloaded %s", evt.Name)
		fn(cfg)
	})
	v.WatchConfig()
	return nil
}

// ApplyLogLevel is the default Watch callback.
func ApplyLogLevel(cfg *Config) {
	if cfg == nil {
		return
	}
	if logger.Level() != cfg.App.LogLevel {
		logger.SetLevel(cfg.App.LogLevel)
		logger.Infof("[config] log level set to %s", cfg.App.LogLevel)
	}
}

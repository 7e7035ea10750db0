package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"klinemirror/internal/logger"
)

// Watch reloads path on every write and hands the new config to apply.
// Invalid edits are logged and skipped. Only settings that can change at
// runtime (the log level) are expected to be honoured by apply.
func Watch(path string, apply func(*Config)) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path cannot be empty")
	}
	if apply == nil {
		return fmt.Errorf("apply 不能为空")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Errorf("[config] reload failed (%s): %v", evt.Name, err)
			return
		}
		logger.Infof("[config] reloaded %s", evt.Name)
		apply(cfg)
	})
	v.WatchConfig()
	return nil
}

// ApplyLogLevel is the default hot-reload hook.
func ApplyLogLevel(cfg *Config) {
	if cfg == nil {
		return
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("[config] log level now %s", logger.Level())
}

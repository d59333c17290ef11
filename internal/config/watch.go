package config

import (
	"fmt"
	"reflect"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch re-reads the config file whenever it changes on disk and passes the
// validated result to onChange. An edit that fails validation is reported
// to onError and the previous configuration stays in effect.
//
// Watch must be called after the config file has been read.
func Watch(onChange func(*Config), onError func(error)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load()
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// RestartRequired lists the sections that differ between prev and next and
// only take effect on restart. The log level is applied live and is ignored.
func RestartRequired(prev, next *Config) []string {
	a, b := *prev, *next
	a.Logging.Level, b.Logging.Level = "", ""

	sections := []struct {
		name string
		x, y any
	}{
		{"queue", a.Queue, b.Queue},
		{"ledger", a.Ledger, b.Ledger},
		{"quorum", a.Quorum, b.Quorum},
		{"registry", a.Registry, b.Registry},
		{"engine", a.Engine, b.Engine},
		{"executor", a.Executor, b.Executor},
		{"api", a.API, b.API},
		{"logging", a.Logging, b.Logging},
		{"audit", a.Audit, b.Audit},
		{"resources", a.Resources, b.Resources},
		{"workers", a.Workers, b.Workers},
	}

	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.x, s.y) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

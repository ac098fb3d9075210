package config

import (
	"reflect"
	"sort"
)

// ChangedSections lists the top-level sections that differ between two
// configs, for reload log lines. Secrets are compared but never
// surfaced beyond the section name.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	note := func(name string, o, n any) {
		if !reflect.DeepEqual(o, n) {
			changed = append(changed, name)
		}
	}

	note("telegram", oldCfg.Telegram, newCfg.Telegram)
	note("logging", oldCfg.Logging, newCfg.Logging)
	note("platform", oldCfg.Platform, newCfg.Platform)
	note("schedule", oldCfg.Schedule, newCfg.Schedule)
	note("dispatch", oldCfg.Dispatch, newCfg.Dispatch)
	note("monitor", oldCfg.Monitor, newCfg.Monitor)
	note("notifier", oldCfg.Notifier, newCfg.Notifier)
	note("storage", oldCfg.Storage, newCfg.Storage)
	note("ops", oldCfg.Ops, newCfg.Ops)

	sort.Strings(changed)
	return changed
}

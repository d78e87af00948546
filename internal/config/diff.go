package config

import (
	"reflect"
	"strings"

	"hermes/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets are reported only as
// "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		fields  []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.ADB, newCfg.ADB) {
		changed = append(changed, "adb")
		fields = append(fields,
			logx.String("adb.path", newCfg.ADB.Path),
			logx.Strings("adb.devices", newCfg.ADB.Devices),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		fields = append(fields,
			logx.String("dispatch.delay_min", newCfg.Dispatch.DelayMin),
			logx.String("dispatch.delay_max", newCfg.Dispatch.DelayMax),
			logx.String("dispatch.schedule", newCfg.Dispatch.Schedule),
		)
	}
	if !reflect.DeepEqual(oldCfg.Generator, newCfg.Generator) {
		changed = append(changed, "generator")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		if tg := newCfg.Telegram; tg != nil {
			fields = append(fields,
				logx.Bool("telegram.enabled", tg.Enabled),
				logx.Bool("telegram.token_set", strings.TrimSpace(tg.Token) != ""),
				logx.Int("telegram.owner_count", len(tg.OwnerUserIDs)),
			)
		}
	}
	if !reflect.DeepEqual(oldCfg.Observability, newCfg.Observability) {
		changed = append(changed, "observability")
		fields = append(fields,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
			logx.Bool("observability.token_set", strings.TrimSpace(newCfg.Observability.Token) != ""),
		)
	}
	return changed, fields
}

// LiveSections are applied without a restart. Changes to any other section
// are logged and take effect on the next start.
var LiveSections = map[string]bool{
	"logging":       true,
	"dispatch":      true,
	"generator":     true,
	"observability": true,
}

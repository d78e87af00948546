package app

import (
	"strings"
	"time"

	"hermes/internal/adb"
	"hermes/internal/config"
	"hermes/internal/dispatch"
	"hermes/internal/linkgen"
	"hermes/internal/observability"
	"hermes/internal/storage"
	"hermes/internal/trigger"
)

// Settings is a config file resolved into the configs of each component.
type Settings struct {
	Dispatch      dispatch.Config
	ADB           adb.Config
	Generator     linkgen.Options
	AddressHint   string
	Storage       storage.Config
	Observability observability.Config
	Trigger       trigger.Config
	TelegramPoll  time.Duration
}

// Resolve parses every duration of cfg and maps the sections onto the
// component configs.
func Resolve(cfg *config.Config) (Settings, error) {
	t, err := cfg.Timing()
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		Dispatch: dispatch.Config{
			Pacing:       dispatch.Pacing{DelayMin: t.DelayMin, DelayMax: t.DelayMax},
			SettleDelay:  t.SettleDelay,
			PollInterval: t.PollInterval,
			AppIDs:       dispatch.DefaultAppIDs,
		},
		ADB: adb.Config{
			Path:                cfg.ADB.Path,
			CommandTimeout:      t.CommandTimeout,
			OpenTimeout:         t.OpenTimeout,
			WaitAfterOpen:       t.WaitAfterOpen,
			WaitAfterFirstEnter: t.WaitAfterFirstEnter,
			StepPause:           t.StepPause,
			BusinessPackage:     cfg.ADB.BusinessPackage,
			LauncherPackage:     cfg.ADB.LauncherPackage,
		},
		Generator: linkgen.Options{
			BaseURL:          cfg.Generator.BaseURL,
			CountryPrefix:    cfg.Generator.CountryPrefix,
			AddressDelimiter: cfg.Generator.AddressDelimiter,
			MonetaryMarkers:  cfg.Generator.MonetaryMarkers,
		},
		AddressHint: cfg.Generator.AddressHint,
		Observability: observability.Config{
			Enabled:              cfg.Observability.Enabled,
			Addr:                 cfg.Observability.Addr,
			Token:                cfg.Observability.Token,
			AllowInsecure:        cfg.Observability.AllowInsecure,
			Pprof:                cfg.Observability.Pprof,
			ReadTimeout:          t.HTTPRead,
			IdleTimeout:          t.HTTPIdle,
			MutexProfileFraction: cfg.Observability.MutexProfileFraction,
			BlockProfileRate:     cfg.Observability.BlockProfileRate,
		},
		Trigger: trigger.Config{
			Schedule:  cfg.Dispatch.Schedule,
			LinksFile: cfg.Dispatch.LinksFile,
			Timezone:  cfg.Dispatch.Timezone,
		},
		TelegramPoll: t.TelegramPoll,
	}
	if len(cfg.ADB.ResetPackages) > 0 {
		s.Dispatch.AppIDs = cfg.ADB.ResetPackages
	}
	if s.AddressHint == "" {
		s.AddressHint = linkgen.DefaultAddressHint
	}
	if sc := cfg.Storage; sc != nil && !strings.EqualFold(strings.TrimSpace(sc.Driver), "none") {
		s.Storage = storage.Config{
			Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
			Path:        strings.TrimSpace(sc.Path),
			BusyTimeout: t.StorageBusy,
		}
	}
	return s, nil
}

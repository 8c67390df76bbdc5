package config

import "reflect"

// ConfigDiff describes what changed between two configs. Only the fields a
// running server can apply are tracked individually; everything else is
// folded into RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// TutorChanged is set when the defaults of new sessions changed.
	TutorChanged bool

	// TimeoutsChanged is set when external call timeouts changed. They apply
	// to sessions created afterwards.
	TimeoutsChanged bool

	// IdleTimeoutChanged is set when the session reaper threshold changed.
	IdleTimeoutChanged bool

	// RestartRequired lists the sections that changed but only take effect
	// after a restart (e.g. "providers", "server.listen_addr").
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TutorChanged && !d.TimeoutsChanged &&
		!d.IdleTimeoutChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.TutorChanged = old.Tutor != new.Tutor
	d.TimeoutsChanged = old.Timeouts != new.Timeouts
	d.IdleTimeoutChanged = old.Server.SessionIdleTimeout != new.Server.SessionIdleTimeout

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !reflect.DeepEqual(old.Server.TLS, new.Server.TLS))
	restart("auth", old.Auth != new.Auth)
	restart("providers", !reflect.DeepEqual(old.Providers, new.Providers))
	restart("audio", old.Audio != new.Audio)
	restart("resilience", old.Resilience != new.Resilience)
	return d
}

package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// Tunables (catalog retrieval knobs, recognition, cast, decision and
// pipeline budgets) apply to sessions opened after the reload. Everything
// listed in RestartRequired keeps its old value until the process restarts.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// Tuning lists the tunable sections that changed, e.g. "decision".
	Tuning []string

	// RestartRequired lists changed settings that cannot be hot-applied.
	RestartRequired []string
}

// TuningChanged reports whether any hot-reloadable tunable changed.
func (d ConfigDiff) TuningChanged() bool { return len(d.Tuning) > 0 }

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !reflect.DeepEqual(retrievalTunables(old.Catalog), retrievalTunables(new.Catalog)) ||
		!reflect.DeepEqual(old.Catalog.Kinds, new.Catalog.Kinds) {
		d.Tuning = append(d.Tuning, "catalog")
	}
	if old.Recognition != new.Recognition {
		d.Tuning = append(d.Tuning, "recognition")
	}
	if old.Cast != new.Cast {
		d.Tuning = append(d.Tuning, "cast")
	}
	if old.Decision != new.Decision {
		d.Tuning = append(d.Tuning, "decision")
	}
	if old.Pipeline != new.Pipeline {
		d.Tuning = append(d.Tuning, "pipeline")
	}
	if old.Session != new.Session {
		d.Tuning = append(d.Tuning, "session")
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		!reflect.DeepEqual(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Catalog.PostgresDSN != new.Catalog.PostgresDSN || old.Catalog.EmbeddingDimensions != new.Catalog.EmbeddingDimensions {
		d.RestartRequired = append(d.RestartRequired, "catalog.postgres")
	}

	return d
}

// retrievalTunables strips the connection settings and slice fields from c
// so the remainder is comparable.
func retrievalTunables(c CatalogConfig) CatalogConfig {
	c.PostgresDSN = ""
	c.EmbeddingDimensions = 0
	c.Kinds = nil
	return c
}

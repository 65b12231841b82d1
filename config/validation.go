package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"questkit/adapters/sqlx"
	"questkit/core"
)

var (
	validAdapters = []string{"memory", "redis", "sql", "file"}
	validDrivers  = []string{sqlx.DriverPostgres, sqlx.DriverMySQL, sqlx.DriverSQLite}
	validLevels   = []string{"debug", "info", "warn", "error"}
	validFormats  = []string{"json", "text"}
	validOutputs  = []string{"stdout", "stderr"}
	validDispatch = []string{"sync", "async"}
)

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

func oneOf(field, value string, allowed []string) string {
	if slices.Contains(allowed, value) {
		return ""
	}
	return fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	if s.PathPrefix != "" && !strings.HasPrefix(s.PathPrefix, "/") {
		errs = append(errs, "path_prefix must start with /")
	}

	for name, d := range map[string]time.Duration{
		"read_timeout":        s.ReadTimeout,
		"write_timeout":       s.WriteTimeout,
		"idle_timeout":        s.IdleTimeout,
		"read_header_timeout": s.ReadHeaderTimeout,
		"shutdown_timeout":    s.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	slices.Sort(errs)

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if msg := oneOf("adapter", s.Adapter, validAdapters); msg != "" {
		errs = append(errs, msg)
	}

	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "redis":
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	case "sql":
		if msg := oneOf("sql config: driver", s.SQL.Driver, validDrivers); msg != "" {
			errs = append(errs, msg)
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string
	for _, msg := range []string{
		oneOf("level", l.Level, validLevels),
		oneOf("format", l.Format, validFormats),
		oneOf("output", l.Output, validOutputs),
	} {
		if msg != "" {
			errs = append(errs, msg)
		}
	}
	return joinErrs(errs)
}

// Validate validates quest settings
func (q *QuestsConfig) Validate() error {
	var errs []string
	if _, err := q.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("default_timezone %q is not a valid IANA zone", q.DefaultTimezone))
	}
	if q.MaxParallel < 1 {
		errs = append(errs, "max_parallel must be >= 1")
	}
	return joinErrs(errs)
}

// Validate validates event dispatch settings
func (e *EventsConfig) Validate() error {
	if msg := oneOf("dispatch", e.Dispatch, validDispatch); msg != "" {
		return errors.New(msg)
	}
	return nil
}

// Validate validates webhook endpoints and filters
func (w *WebhookConfig) Validate() error {
	var errs []string
	for i, ep := range w.Endpoints {
		u, err := url.Parse(ep)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("endpoints[%d] must be an absolute http(s) URL", i))
		}
	}
	known := core.EventTypes()
	for i, t := range w.EventTypes {
		if !slices.Contains(known, core.EventType(t)) {
			errs = append(errs, fmt.Sprintf("event_types[%d]: unknown event type %q", i, t))
		}
	}
	return joinErrs(errs)
}

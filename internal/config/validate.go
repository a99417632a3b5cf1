package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

var validReadModes = map[string]bool{
	"offset": true, "latest": true, "query": true, "snapshot": true, "subscribe": true,
}

var validPolicies = map[string]bool{
	"block": true, "drop": true, "overwrite": true,
}

var validFramings = map[string]bool{
	"newline": true, "length_prefixed": true, "fixed_size": true,
	"avro_container": true, "arrow_ipc_streaming": true,
}

// Validate checks the start-time-fatal configuration errors:
// duplicate names within a kind, unknown read modes, unknown back-pressure
// policies, and malformed channel config. It does NOT resolve plugin names
// against the registry or type-check a MapSchema — those require the
// registry and schema objects and are checked by the pipeline supervisor's
// own Validate step.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateUniqueNames("converters", namesOf(cfg.Converters, func(c ConverterConfig) string { return c.Name }))...)
	errs = append(errs, validateUniqueNames("formats", namesOf(cfg.Formats, func(c FormatConfig) string { return c.Name }))...)
	errs = append(errs, validateUniqueNames("schema_maps", namesOf(cfg.SchemaMaps, func(c SchemaMapConfig) string { return c.Name }))...)
	errs = append(errs, validateUniqueNames("topics", namesOf(cfg.Topics, func(c TopicConfig) string { return c.Name }))...)
	errs = append(errs, validateUniqueNames("processors", namesOf(cfg.Processors, func(c ProcessorConfig) string { return c.Name }))...)

	errs = append(errs, validateTopics(cfg.Topics)...)
	errs = append(errs, validateProcessors(cfg.Processors)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func namesOf[T any](items []T, name func(T) string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = name(item)
	}
	return out
}

func validateUniqueNames(section string, names []string) ValidationErrors {
	var errs ValidationErrors
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			errs = append(errs, ValidationError{Field: section, Message: "entry missing required 'name'"})
			continue
		}
		if seen[n] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%s]", section, n),
				Message: "duplicate name in " + section,
			})
		}
		seen[n] = true
	}
	return errs
}

func validateTopics(topics []TopicConfig) ValidationErrors {
	var errs ValidationErrors
	for _, t := range topics {
		if t.Storage == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("topics[%s].storage", t.Name),
				Message: "required",
			})
		}
		if t.StorageConfig == nil {
			continue
		}
		if wf, ok := t.StorageConfig["write_full"]; ok {
			if s, ok := wf.(string); !ok || !validPolicies[s] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("topics[%s].storage_config.write_full", t.Name),
					Message: "must be one of: block, drop, overwrite",
				})
			}
		}
	}
	return errs
}

func validateProcessors(procs []ProcessorConfig) ValidationErrors {
	var errs ValidationErrors
	for _, p := range procs {
		if p.Source != nil {
			if p.Source.Topic == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("processors[%s].source.topic", p.Name),
					Message: "required when source is set",
				})
			}
			if p.Source.Read != "" && !validReadModes[p.Source.Read] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("processors[%s].source.read", p.Name),
					Message: "must be one of: offset, latest, query, snapshot, subscribe",
				})
			}
			if p.Source.Policy != "" && !validPolicies[p.Source.Policy] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("processors[%s].source.policy", p.Name),
					Message: "must be one of: block, drop, overwrite",
				})
			}
		}
		if p.Target != nil && p.Target.Topic == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("processors[%s].target.topic", p.Name),
				Message: "required when target is set",
			})
		}
		errs = append(errs, validateChannel(p.Name, "input", p.Config.Input)...)
		errs = append(errs, validateChannel(p.Name, "output", p.Config.Output)...)
		if p.Plugin == "passthrough" {
			errs = append(errs, validatePassthrough(p)...)
		}
		if p.Join != nil {
			if p.Join.RightTopic == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("processors[%s].join.right_topic", p.Name),
					Message: "required",
				})
			}
			if p.Join.KeyField == "" {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("processors[%s].join.key_field", p.Name),
					Message: "required",
				})
			}
			if p.Join.WindowMS <= 0 {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("processors[%s].join.window_ms", p.Name),
					Message: "must be positive",
				})
			}
		}
	}
	return errs
}

// validatePassthrough enforces the zero-copy constraints: each side names
// exactly one endpoint (a file path or a socket addr), and neither side
// may configure format or framing — a path that needs framing or record
// construction is not a zero-copy path.
func validatePassthrough(p ProcessorConfig) ValidationErrors {
	var errs ValidationErrors
	for _, side := range []struct {
		name string
		ch   ChannelConfig
	}{{"input", p.Config.Input}, {"output", p.Config.Output}} {
		if (side.ch.Path == "") == (side.ch.Addr == "") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("processors[%s].config.%s", p.Name, side.name),
				Message: "passthrough needs exactly one of path or addr",
			})
		}
		if side.ch.Format != "" || side.ch.Framing != "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("processors[%s].config.%s", p.Name, side.name),
				Message: "passthrough cannot configure format or framing",
			})
		}
	}
	return errs
}

func validateChannel(procName, side string, ch ChannelConfig) ValidationErrors {
	var errs ValidationErrors
	if ch.Framing == "" {
		return errs
	}
	if !validFramings[ch.Framing] {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("processors[%s].config.%s.framing", procName, side),
			Message: "must be one of: newline, length_prefixed, fixed_size, avro_container, arrow_ipc_streaming",
		})
	}
	if ch.Framing == "length_prefixed" {
		validPrefix := map[string]bool{"u32be": true, "u16be": true, "varint": true}
		if !validPrefix[ch.PrefixType] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("processors[%s].config.%s.prefix_type", procName, side),
				Message: "must be one of: u32be, u16be, varint",
			})
		}
	}
	if ch.Framing == "fixed_size" && ch.FrameSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("processors[%s].config.%s.frame_size", procName, side),
			Message: "must be positive",
		})
	}
	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}
	return errs
}

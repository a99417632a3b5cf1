// Package config provides configuration management for Gauss.
package config

// Config is the root configuration structure for a Gauss deployment:
// five top-level arrays of declarative plugin instantiations plus the
// ambient sections (logging, metrics) the engine itself needs.
type Config struct {
	Converters []ConverterConfig `mapstructure:"converters"`
	Formats    []FormatConfig    `mapstructure:"formats"`
	SchemaMaps []SchemaMapConfig `mapstructure:"schema_maps"`
	Topics     []TopicConfig     `mapstructure:"topics"`
	Processors []ProcessorConfig `mapstructure:"processors"`

	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	HotReload HotReloadConfig `mapstructure:"hot_reload"`
}

// ConverterConfig names a field-converter plugin instance.
type ConverterConfig struct {
	Name   string         `mapstructure:"name"`
	Plugin string         `mapstructure:"plugin"`
	Config map[string]any `mapstructure:"config"`
}

// FormatConfig names a format-codec plugin instance.
type FormatConfig struct {
	Name   string         `mapstructure:"name"`
	Plugin string         `mapstructure:"plugin"`
	Config map[string]any `mapstructure:"config"`
}

// SchemaMapConfig names a schema-mapping-resolver instance:
// a compiled `MapSchema` built from a source schema, a target schema, and a
// mapping script.
type SchemaMapConfig struct {
	Name       string `mapstructure:"name"`
	SourceRef  string `mapstructure:"source"`
	TargetRef  string `mapstructure:"target"`
	ScriptPath string `mapstructure:"script"`
	Script     string `mapstructure:"script_inline"`
}

// TopicConfig is one `[[topics]]` entry: a named storage
// instantiation. StorageConfig is forwarded to the storage plugin
// verbatim; the engine itself never interprets its keys.
type TopicConfig struct {
	Name          string         `mapstructure:"name"`
	Storage       string         `mapstructure:"storage"`
	StorageConfig map[string]any `mapstructure:"storage_config"`
	// Rotation schedules this topic's storage Rotate sweep with
	// internal/scheduler.
	// Nil means no scheduled rotation — Rotate only fires from a storage's
	// own size/count threshold, where one exists.
	Rotation *RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures a scheduled rotation/compaction sweep for one
// topic's storage: file segment rotation, a ring buffer's compaction pass,
// or a columnar storage's row-group flush.
type RotationConfig struct {
	// Type is "cron" or "interval".
	Type          string `mapstructure:"type"`
	Expression    string `mapstructure:"expression"`
	Timezone      string `mapstructure:"timezone"`
	SkipIfRunning bool   `mapstructure:"skip_if_running"`
}

// ProcessorConfig is one `[[processors]]` entry.
type ProcessorConfig struct {
	Name   string                `mapstructure:"name"`
	Plugin string                `mapstructure:"plugin"`
	Source *ProcessorSourceRef   `mapstructure:"source"`
	Target *ProcessorTargetRef   `mapstructure:"target"`
	Config ProcessorChannelPair  `mapstructure:"config"`
	Join   *ProcessorJoinConfig  `mapstructure:"join"`
}

// ProcessorSourceRef names the topic and read mode a processor reads from.
type ProcessorSourceRef struct {
	Topic string `mapstructure:"topic"`
	Read  string `mapstructure:"read"`
	// Policy is the subscriber's back-pressure policy for this source
	// subscription: block, drop, or overwrite.
	Policy string `mapstructure:"policy"`
	// BufferSize sizes the subscription channel; a latest/drop subscriber
	// typically sizes it to the ring capacity.
	BufferSize int `mapstructure:"buffer_size"`
	// FromMs/ToMs/Limit parameterize a read = "query" subscription's
	// one-shot range. Zero means unbounded/unlimited.
	FromMs int64 `mapstructure:"from_ms"`
	ToMs   int64 `mapstructure:"to_ms"`
	Limit  int   `mapstructure:"limit"`
}

// ProcessorTargetRef names the topic a processor writes to.
type ProcessorTargetRef struct {
	Topic string `mapstructure:"topic"`
}

// ProcessorChannelPair holds the input/output framing+format config
// recognized keys: format, framing, delimiter, prefix_type,
// frame_size.
type ProcessorChannelPair struct {
	Input  ChannelConfig `mapstructure:"input"`
	Output ChannelConfig `mapstructure:"output"`
}

// ChannelConfig is one side (input or output) of a processor's wire config.
// Format/Framing/Delimiter/PrefixType/FrameSize are the recognized keys
// the engine recognizes; Addr/Mode bind the transport contract to an
// actual TCP endpoint so a `gaussd run` config can drive real bytes end
// to end, not just tests.
type ChannelConfig struct {
	Format     string `mapstructure:"format"`
	Framing    string `mapstructure:"framing"`
	Delimiter  string `mapstructure:"delimiter"`
	PrefixType string `mapstructure:"prefix_type"`
	FrameSize  int    `mapstructure:"frame_size"`
	// Addr is a "host:port" TCP endpoint. Empty means "no real transport
	// configured" — the processor runs against an in-memory pipe that
	// never delivers or accepts data, which is fine for `gaussd validate`
	// and for topology tests but not for production ingestion.
	Addr string `mapstructure:"addr"`
	// Mode is "dial" or "listen" (source default: listen; sink default:
	// dial). A listening source accepts exactly one connection and frames
	// from it — see DESIGN.md for why a full accept-loop-per-connection
	// model is out of scope here.
	Mode string `mapstructure:"mode"`
	// Path names a file endpoint instead of a socket. Only passthrough
	// processors accept it: the path/addr pairing of the two sides picks
	// the zero-copy primitive (file→socket replay, socket→file capture,
	// socket→socket proxy, file→file rotation).
	Path string `mapstructure:"path"`
}

// ProcessorJoinConfig configures a window-join processor: a Transform
// specialization with a second source and a time window.
type ProcessorJoinConfig struct {
	RightTopic string `mapstructure:"right_topic"`
	// RightFormat names the format plugin instance used to decode the
	// right topic's records; the processor's config.input.format decodes
	// the left side. Left and right are independent streams, so they are
	// allowed to speak different wire formats.
	RightFormat string `mapstructure:"right_format"`
	KeyField    string `mapstructure:"key_field"`
	RightKeyField string `mapstructure:"right_key_field"`
	WindowMS    int64  `mapstructure:"window_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal, panic.
	Level string `mapstructure:"level"`
	// Format is json or console.
	Format string `mapstructure:"format"`
	Caller bool   `mapstructure:"caller"`
}

// MetricsConfig holds the Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// RealtimeConfig enables the WebSocket subscribe broker
// (internal/realtime): the subscribe read mode fanned out live to
// connected clients over a network transport rather than polled.
type RealtimeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// HotReloadConfig enables a registry.Watcher that reloads a schema map's
// mapping script in place when its backing file changes on disk, without a
// process restart.
type HotReloadConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

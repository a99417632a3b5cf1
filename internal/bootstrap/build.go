// Package bootstrap turns a parsed config.Config into a running
// pipeline.Topology: it registers the built-in
// plugins, binds the user's named converter/format instances as registry
// aliases, constructs every topic's storage, resolves every schema
// mapping, and wires every processor's transport and topic subscriptions.
//
// This is the glue `internal/cli`'s commands reach for to turn a loaded
// config into a live deployment.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/codec"
	"github.com/gauss-stream/gauss/internal/config"
	"github.com/gauss-stream/gauss/internal/convert"
	"github.com/gauss-stream/gauss/internal/gschema"
	"github.com/gauss-stream/gauss/internal/mapping"
	"github.com/gauss-stream/gauss/internal/pipeline"
	"github.com/gauss-stream/gauss/internal/processor"
	"github.com/gauss-stream/gauss/internal/realtime"
	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/scheduler"
	"github.com/gauss-stream/gauss/internal/storage"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/transport"
	"github.com/gauss-stream/gauss/internal/value"
)

// Built is everything assembling a config produces: the topology the
// supervisor runs, plus the registry backing it (so the caller can
// ReleaseAll on shutdown), and the live-deployment components that have no
// place in pipeline.Topology because they sit beside it rather than inside
// the record-processing tiers: the realtime subscribe broker, the rotation
// scheduler, and the plugin hot-reload watcher. Any of the three may be nil
// when its config section is disabled or has nothing to do.
type Built struct {
	Registry  *registry.Registry
	Topology  pipeline.Topology
	Broker    *realtime.Broker
	Scheduler *scheduler.Scheduler
	Watcher   *registry.Watcher
}

// Build resolves cfg into a Built topology. It does not start anything;
// the caller hands Topology to pipeline.NewSupervisor and calls Start.
func Build(ctx context.Context, cfg *config.Config) (*Built, error) {
	reg := registry.New()
	if err := storage.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("bootstrap: registering storage builtins: %w", err)
	}
	if err := codec.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("bootstrap: registering format builtins: %w", err)
	}
	if err := convert.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("bootstrap: registering converter builtins: %w", err)
	}

	if err := bindAliases(reg, registry.KindConverter, cfg.Converters, func(c config.ConverterConfig) (string, string, map[string]any) {
		return c.Name, c.Plugin, c.Config
	}); err != nil {
		return nil, err
	}
	if err := bindAliases(reg, registry.KindFormat, cfg.Formats, func(f config.FormatConfig) (string, string, map[string]any) {
		return f.Name, f.Plugin, f.Config
	}); err != nil {
		return nil, err
	}

	schemaMaps := make(map[string]config.SchemaMapConfig, len(cfg.SchemaMaps))
	for _, sm := range cfg.SchemaMaps {
		schemaMaps[sm.Name] = sm
	}

	formatCache := make(map[string]codec.Codec)

	sched := scheduler.New()
	var schedTasks int
	reload, err := registry.NewWatcher(reg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: creating plugin watcher: %w", err)
	}
	var reloadPaths int

	var broker *realtime.Broker
	topics := make(map[string]*topic.Topic, len(cfg.Topics))
	if cfg.Realtime.Enabled {
		broker = realtime.NewBroker(newTopicSource(topics), nil)
	}

	var topicOrder []*topic.Topic
	var topicNames []string
	for _, tc := range cfg.Topics {
		built, err := buildTopic(ctx, reg, formatCache, schemaMaps, tc)
		if err != nil {
			return nil, err
		}
		if broker != nil {
			built.topic.Storage = realtime.Wrap(built.storage, broker, tc.Name)
		}
		topics[tc.Name] = built.topic
		topicOrder = append(topicOrder, built.topic)
		topicNames = append(topicNames, tc.Name)

		if tc.Rotation != nil {
			rotatable, ok := built.storage.(scheduler.Rotatable)
			if !ok {
				return nil, fmt.Errorf("bootstrap: topics[%s]: storage %q does not support scheduled rotation", tc.Name, tc.Storage)
			}
			if err := sched.Register(&scheduler.RotationTask{
				Name:          tc.Name,
				Target:        rotatable,
				Type:          scheduler.ScheduleType(tc.Rotation.Type),
				Expression:    tc.Rotation.Expression,
				Timezone:      tc.Rotation.Timezone,
				SkipIfRunning: tc.Rotation.SkipIfRunning,
			}); err != nil {
				return nil, fmt.Errorf("bootstrap: topics[%s]: registering rotation task: %w", tc.Name, err)
			}
			schedTasks++
		}

		if cfg.HotReload.Enabled && built.scriptPath != "" {
			smName, targetMS := built.schemaMapName, built.mapSchema
			path := built.scriptPath
			rebuild := func(c codec.Codec, smc config.SchemaMapConfig, storageConfig map[string]any) func() {
				return func() {
					ms, err := resolveMapSchema(reg, c, smc, storageConfig)
					if err != nil {
						log.Error().Str("schema_map", smName).Err(err).Msg("reloading mapping script failed")
						return
					}
					*targetMS = ms
					log.Info().Str("schema_map", smName).Str("path", path).Msg("mapping script reloaded")
				}
			}(built.codec, schemaMaps[smName], built.storageConfig)
			if err := reload.WatchFunc(path, rebuild); err != nil {
				return nil, fmt.Errorf("bootstrap: topics[%s]: watching schema_map %q script: %w", tc.Name, smName, err)
			}
			reloadPaths++
		}
	}

	var sources, transforms, sinks []processor.Processor
	var transformSubs, sinkSubs []*pipeline.Subscription

	for _, pc := range cfg.Processors {
		switch pc.Plugin {
		case "source":
			src, err := buildSource(ctx, reg, formatCache, topics, pc)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)

		case "sink":
			snk, subs, err := buildSink(ctx, reg, formatCache, topics, topicNames, pc)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, snk)
			sinkSubs = append(sinkSubs, subs...)

		case "transform":
			tr, subs, err := buildTransform(ctx, reg, formatCache, topics, topicNames, pc)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, tr)
			transformSubs = append(transformSubs, subs...)

		case "passthrough":
			pt, err := buildPassthrough(ctx, pc)
			if err != nil {
				return nil, err
			}
			switch pt.Kind() {
			case processor.KindSource:
				sources = append(sources, pt)
			case processor.KindSink:
				sinks = append(sinks, pt)
			default:
				transforms = append(transforms, pt)
			}

		case "join":
			j, leftSub, rightSub, err := buildJoin(reg, formatCache, topics, pc)
			if err != nil {
				return nil, err
			}
			transforms = append(transforms, j)
			transformSubs = append(transformSubs, leftSub, rightSub)

		default:
			return nil, fmt.Errorf("bootstrap: processors[%s]: unknown plugin %q (want source, sink, transform, join, or passthrough)", pc.Name, pc.Plugin)
		}
	}

	if broker != nil {
		log.Info().Int("topics", len(topicOrder)).Msg("realtime subscribe broker wired")
	}

	var schedOut *scheduler.Scheduler
	if schedTasks > 0 {
		schedOut = sched
		log.Info().Int("tasks", schedTasks).Msg("rotation scheduler configured")
	}

	var watchOut *registry.Watcher
	if reloadPaths > 0 {
		watchOut = reload
	} else if err := reload.Stop(); err != nil {
		log.Warn().Err(err).Msg("bootstrap: closing unused plugin watcher")
	}

	return &Built{
		Registry: reg,
		Topology: pipeline.Topology{
			Registry:      reg,
			Topics:        topicOrder,
			Sources:       sources,
			Transforms:    transforms,
			Sinks:         sinks,
			TransformSubs: transformSubs,
			SinkSubs:      sinkSubs,
		},
		Broker:    broker,
		Scheduler: schedOut,
		Watcher:   watchOut,
	}, nil
}

// bindAliases materializes one plugin instance per named entry and
// registers the user's chosen name as an alias for it. Gauss's mapping
// resolver always loads a converter by name with a nil config (converter
// lookups at mapping-script call sites carry no config parameter), so a
// [[converters]] entry's own `config` table only takes
// effect if it is baked into the instance once, here, and every later
// lookup-by-name returns that same instance regardless of what config it
// is asked for.
func bindAliases[T any](reg *registry.Registry, kind registry.Kind, entries []T, fields func(T) (name, plugin string, cfg map[string]any)) error {
	for _, e := range entries {
		name, plugin, cfg := fields(e)
		if name == "" || plugin == "" {
			continue
		}
		h, caps, err := reg.Load(kind, plugin, cfg)
		if err != nil {
			return fmt.Errorf("bootstrap: %s %q: %w", kind, name, err)
		}
		inst, err := reg.Instance(h)
		if err != nil {
			return fmt.Errorf("bootstrap: %s %q: %w", kind, name, err)
		}
		if err := reg.Register(kind, name, func(map[string]any) (registry.Plugin, registry.Capabilities, error) {
			return inst, caps, nil
		}); err != nil {
			return fmt.Errorf("bootstrap: %s %q: %w", kind, name, err)
		}
	}
	return nil
}

// topicBuild is buildTopic's full result: the topic itself, plus everything
// Build needs to optionally wire it into the scheduler (its storage, if
// Rotatable) or the hot-reload watcher (the schema map, codec, and script
// path that produced its MapSchema, if any).
type topicBuild struct {
	topic         *topic.Topic
	storage       topic.Storage
	codec         codec.Codec
	schemaMapName string
	scriptPath    string
	mapSchema     *mapping.MapSchema
	storageConfig map[string]any
}

func buildTopic(ctx context.Context, reg *registry.Registry, formatCache map[string]codec.Codec, schemaMaps map[string]config.SchemaMapConfig, tc config.TopicConfig) (topicBuild, error) {
	cfgBlob := tc.StorageConfig
	if cfgBlob == nil {
		cfgBlob = map[string]any{}
	}
	if tc.Storage == "table" {
		if _, ok := cfgBlob["name"]; !ok {
			withName := make(map[string]any, len(cfgBlob)+1)
			for k, v := range cfgBlob {
				withName[k] = v
			}
			withName["name"] = tc.Name
			cfgBlob = withName
		}
	}

	h, _, err := reg.Load(registry.KindStorage, tc.Storage, cfgBlob)
	if err != nil {
		return topicBuild{}, fmt.Errorf("bootstrap: topics[%s]: %w", tc.Name, err)
	}
	inst, err := reg.Instance(h)
	if err != nil {
		return topicBuild{}, fmt.Errorf("bootstrap: topics[%s]: %w", tc.Name, err)
	}
	st, ok := inst.(topic.Storage)
	if !ok {
		return topicBuild{}, fmt.Errorf("bootstrap: topics[%s]: plugin %q is not a storage engine", tc.Name, tc.Storage)
	}

	var tctx topic.Context
	tctx.Config = cfgBlob

	var built topicBuild
	built.storage = st
	built.storageConfig = cfgBlob

	if formatName, _ := cfgBlob["format"].(string); formatName != "" {
		c, err := lookupFormat(reg, formatCache, formatName)
		if err != nil {
			return topicBuild{}, fmt.Errorf("bootstrap: topics[%s]: %w", tc.Name, err)
		}
		tctx.Codec = c
		built.codec = c

		if smName, _ := cfgBlob["schema_map"].(string); smName != "" {
			smc, ok := schemaMaps[smName]
			if !ok {
				return topicBuild{}, fmt.Errorf("bootstrap: topics[%s]: unknown schema_map %q", tc.Name, smName)
			}
			ms, err := resolveMapSchema(reg, c, smc, cfgBlob)
			if err != nil {
				return topicBuild{}, fmt.Errorf("bootstrap: topics[%s]: %w", tc.Name, err)
			}
			tctx.MapSchema = &ms
			built.schemaMapName = smName
			built.scriptPath = smc.ScriptPath
			built.mapSchema = tctx.MapSchema
		}
	}

	if err := st.Init(ctx, tctx); err != nil {
		return topicBuild{}, fmt.Errorf("bootstrap: topics[%s]: init: %w", tc.Name, err)
	}

	built.topic = topic.New(tc.Name, st, cfgBlob)
	return built, nil
}

func lookupFormat(reg *registry.Registry, cache map[string]codec.Codec, name string) (codec.Codec, error) {
	if c, ok := cache[name]; ok {
		return c, nil
	}
	h, _, err := reg.Load(registry.KindFormat, name, nil)
	if err != nil {
		return nil, err
	}
	inst, err := reg.Instance(h)
	if err != nil {
		return nil, err
	}
	c, ok := inst.(codec.Codec)
	if !ok {
		return nil, fmt.Errorf("plugin %q is not a format codec", name)
	}
	cache[name] = c
	return c, nil
}

// loadScript reads a schema map's mapping script, either inline (the
// common case for unit tests and small configs) or from a file.
func loadScript(smc config.SchemaMapConfig) (string, error) {
	if smc.Script != "" {
		return smc.Script, nil
	}
	if smc.ScriptPath != "" {
		b, err := os.ReadFile(smc.ScriptPath)
		if err != nil {
			return "", fmt.Errorf("reading schema_maps[%s] script %q: %w", smc.Name, smc.ScriptPath, err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("schema_maps[%s] needs either script_inline or script", smc.Name)
}

// resolveMapSchema builds the initial target schema (the DDL-level
// attributes a [[topics]] entry's storage_config.schema table carries, an
// otherwise-empty schema) and
// runs it and the format's source schema through the mapping resolver.
func resolveMapSchema(reg *registry.Registry, c codec.Codec, smc config.SchemaMapConfig, storageConfig map[string]any) (mapping.MapSchema, error) {
	source, ok := c.Schema()
	if !ok {
		return mapping.MapSchema{}, fmt.Errorf("schema_maps[%s]: source format has no schema to map from", smc.Name)
	}
	script, err := loadScript(smc)
	if err != nil {
		return mapping.MapSchema{}, err
	}
	resolver := mapping.NewResolver(reg)
	return resolver.Resolve(source, initialTargetSchema(storageConfig), script)
}

func initialTargetSchema(storageConfig map[string]any) gschema.Schema {
	raw, _ := storageConfig["schema"].(map[string]any)
	if len(raw) == 0 {
		return gschema.Schema{}
	}
	attrs := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	return gschema.Schema{Attrs: attrs}
}

func resolveTarget(topics map[string]*topic.Topic, name string) (*topic.Topic, error) {
	tp, ok := topics[name]
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", name)
	}
	return tp, nil
}

func newSubscription(tp *topic.Topic, ref *config.ProcessorSourceRef) *pipeline.Subscription {
	mode := topic.ReadMode(ref.Read)
	if mode == "" {
		mode = topic.ReadOffset
	}
	policy := topic.BackPressurePolicy(ref.Policy)
	if policy == "" {
		policy = topic.BackPressurePolicy(config.DefaultReadPolicy)
	}
	bufSize := ref.BufferSize
	if bufSize <= 0 {
		bufSize = config.DefaultBufferSize
	}
	sub := pipeline.NewSubscription(tp, mode, policy, bufSize)
	sub.FromMs = ref.FromMs
	sub.ToMs = ref.ToMs
	sub.Limit = ref.Limit
	return sub
}

func frameConfig(ch config.ChannelConfig) transport.FrameConfig {
	var delim byte
	if ch.Delimiter != "" {
		delim = ch.Delimiter[0]
	}
	return transport.FrameConfig{
		Mode:       transport.Framing(ch.Framing),
		Delimiter:  delim,
		PrefixType: transport.PrefixType(ch.PrefixType),
		FrameSize:  ch.FrameSize,
	}
}

func windowDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func buildSource(ctx context.Context, reg *registry.Registry, formatCache map[string]codec.Codec, topics map[string]*topic.Topic, pc config.ProcessorConfig) (processor.Processor, error) {
	if pc.Target == nil || pc.Target.Topic == "" {
		return nil, fmt.Errorf("bootstrap: processors[%s]: a source requires target.topic", pc.Name)
	}
	tp, err := resolveTarget(topics, pc.Target.Topic)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	reader, err := openReader(ctx, pc.Config.Input)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	src, err := processor.NewSource(processor.SourceConfig{
		Name:   pc.Name,
		Reader: reader,
		Frame:  frameConfig(pc.Config.Input),
		Target: tp,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}
	return src, nil
}

func buildSink(ctx context.Context, reg *registry.Registry, formatCache map[string]codec.Codec, topics map[string]*topic.Topic, topicNames []string, pc config.ProcessorConfig) (processor.Processor, []*pipeline.Subscription, error) {
	if pc.Source == nil || pc.Source.Topic == "" {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: a sink requires source.topic", pc.Name)
	}
	input, subs, err := resolveSourceChannel(topics, topicNames, pc.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	inCodec, outCodec, err := channelCodecs(reg, formatCache, pc.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	writer, err := openWriter(ctx, pc.Config.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	snk, err := processor.NewSink(processor.SinkConfig{
		Name:        pc.Name,
		Input:       input,
		InputCodec:  inCodec,
		OutputCodec: outCodec,
		Writer:      writer,
		Frame:       frameConfig(pc.Config.Output),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}
	return snk, subs, nil
}

// resolveSourceChannel resolves a processor's source.topic against every
// known topic name, supporting an exact name or a glob pattern
// (`trades.*`) that fans in from every match — a processor reads one
// logical stream regardless of how many topics feed it. A single match
// is the common case and needs no merge goroutine.
func resolveSourceChannel(topics map[string]*topic.Topic, topicNames []string, ref *config.ProcessorSourceRef) (<-chan topicrecord.Record, []*pipeline.Subscription, error) {
	names, err := matchTopicNames(topicNames, ref.Topic)
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("source.topic %q matches no declared topic", ref.Topic)
	}
	if len(names) == 1 {
		sub := newSubscription(topics[names[0]], ref)
		return sub.Records(), []*pipeline.Subscription{sub}, nil
	}

	subs := make([]*pipeline.Subscription, 0, len(names))
	chans := make([]<-chan topicrecord.Record, 0, len(names))
	for _, n := range names {
		sub := newSubscription(topics[n], ref)
		subs = append(subs, sub)
		chans = append(chans, sub.Records())
	}
	return fanIn(chans), subs, nil
}

// matchTopicNames resolves a source.topic reference against the declared
// topic names. A pattern with no glob metacharacters must match exactly
// one name (the common, non-fan-in case); a glob pattern is compiled with
// gobwas/glob and matched against every name.
func matchTopicNames(topicNames []string, pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		for _, n := range topicNames {
			if n == pattern {
				return []string{n}, nil
			}
		}
		return nil, nil
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, fmt.Errorf("invalid topic glob %q: %w", pattern, err)
	}
	var out []string
	for _, n := range topicNames {
		if g.Match(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// fanIn merges N record channels into one, closing the merged channel
// once every input has closed.
func fanIn(chans []<-chan topicrecord.Record) <-chan topicrecord.Record {
	out := make(chan topicrecord.Record, len(chans))
	var wg sync.WaitGroup
	wg.Add(len(chans))
	for _, c := range chans {
		go func(c <-chan topicrecord.Record) {
			defer wg.Done()
			for rec := range c {
				out <- rec
			}
		}(c)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// buildTransform wires a Transform processor with the identity function:
// configuration alone can change framing, format, and routing, but
// arbitrary per-record business logic is a Go-level extension point
// (processor.TransformFunc) rather than something expressible in TOML —
// see DESIGN.md for why this isn't routed through the mapping script's
// CEL environment instead.
func buildTransform(ctx context.Context, reg *registry.Registry, formatCache map[string]codec.Codec, topics map[string]*topic.Topic, topicNames []string, pc config.ProcessorConfig) (processor.Processor, []*pipeline.Subscription, error) {
	if pc.Source == nil || pc.Source.Topic == "" {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: a transform requires source.topic", pc.Name)
	}
	input, subs, err := resolveSourceChannel(topics, topicNames, pc.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	inCodec, outCodec, err := channelCodecs(reg, formatCache, pc.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	var target *topic.Topic
	if pc.Target != nil && pc.Target.Topic != "" {
		target, err = resolveTarget(topics, pc.Target.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
		}
	}

	tr := processor.NewTransform(processor.TransformConfig{
		Name:        pc.Name,
		Input:       input,
		InputCodec:  inCodec,
		OutputCodec: outCodec,
		Fn:          processor.Identity,
		Target:      target,
	})
	return tr, subs, nil
}

func buildJoin(reg *registry.Registry, formatCache map[string]codec.Codec, topics map[string]*topic.Topic, pc config.ProcessorConfig) (processor.Processor, *pipeline.Subscription, *pipeline.Subscription, error) {
	if pc.Join == nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: a join requires a [processors.join] table", pc.Name)
	}
	if pc.Source == nil || pc.Source.Topic == "" {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: a join requires source.topic for its left side", pc.Name)
	}
	if pc.Join.RightTopic == "" {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: join.right_topic is required", pc.Name)
	}

	leftTopic, err := resolveTarget(topics, pc.Source.Topic)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}
	rightTopic, err := resolveTarget(topics, pc.Join.RightTopic)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	leftSub := newSubscription(leftTopic, pc.Source)
	rightRef := &config.ProcessorSourceRef{Topic: pc.Join.RightTopic, Read: pc.Source.Read, Policy: pc.Source.Policy, BufferSize: pc.Source.BufferSize}
	rightSub := newSubscription(rightTopic, rightRef)

	leftCodec, outCodec, err := channelCodecs(reg, formatCache, pc.Config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}
	rightFormatName := pc.Join.RightFormat
	if rightFormatName == "" {
		rightFormatName = pc.Config.Input.Format
	}
	var rightCodec codec.Codec
	if rightFormatName != "" {
		rightCodec, err = lookupFormat(reg, formatCache, rightFormatName)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: right side: %w", pc.Name, err)
		}
	}

	if leftCodec == nil || rightCodec == nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: join requires both sides to have schema-ful formats configured", pc.Name)
	}

	leftKey, err := keyFuncFor(leftCodec, pc.Join.KeyField)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: left key: %w", pc.Name, err)
	}
	rightKeyField := pc.Join.RightKeyField
	if rightKeyField == "" {
		rightKeyField = pc.Join.KeyField
	}
	rightKey, err := keyFuncFor(rightCodec, rightKeyField)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: right key: %w", pc.Name, err)
	}

	var target *topic.Topic
	if pc.Target != nil && pc.Target.Topic != "" {
		target, err = resolveTarget(topics, pc.Target.Topic)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
		}
	}

	j := processor.NewJoin(processor.JoinConfig{
		Name:        pc.Name,
		Left:        leftSub.Records(),
		Right:       rightSub.Records(),
		LeftCodec:   leftCodec,
		RightCodec:  rightCodec,
		LeftKey:     leftKey,
		RightKey:    rightKey,
		Window:      windowDuration(pc.Join.WindowMS),
		Output:      concatJoinOutput,
		OutputCodec: outCodec,
		Target:      target,
	})
	return j, leftSub, rightSub, nil
}

// concatJoinOutput is the default join combiner: the matched pair's
// fields concatenated left-then-right. A join output codec whose schema
// doesn't match this shape is a configuration error the engine surfaces
// at the first record, same as any other codec/mapping mismatch.
func concatJoinOutput(left, right value.Row) value.Row {
	out := make(value.Row, 0, len(left)+len(right))
	out = append(out, left...)
	out = append(out, right...)
	return out
}

func keyFuncFor(c codec.Codec, field string) (processor.KeyFunc, error) {
	if field == "" {
		return nil, fmt.Errorf("key_field is required")
	}
	schema, ok := c.Schema()
	if !ok {
		return nil, fmt.Errorf("codec has no schema to resolve key_field %q against", field)
	}
	idx := schema.IndexOf(field)
	if idx < 0 {
		return nil, fmt.Errorf("key_field %q not found in schema", field)
	}
	return func(row value.Row) (string, bool) {
		if idx >= len(row) {
			return "", false
		}
		v := row[idx]
		if v.IsNull() {
			return "", false
		}
		return string(v.CanonicalBytes()), true
	}, nil
}

func channelCodecs(reg *registry.Registry, formatCache map[string]codec.Codec, pair config.ProcessorChannelPair) (in, out codec.Codec, err error) {
	if pair.Input.Format != "" {
		in, err = lookupFormat(reg, formatCache, pair.Input.Format)
		if err != nil {
			return nil, nil, err
		}
	}
	if pair.Output.Format != "" {
		out, err = lookupFormat(reg, formatCache, pair.Output.Format)
		if err != nil {
			return nil, nil, err
		}
	}
	return in, out, nil
}

package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gauss-stream/gauss/internal/config"
	"github.com/gauss-stream/gauss/internal/convert"
	"github.com/gauss-stream/gauss/internal/pipeline"
	"github.com/gauss-stream/gauss/internal/processor"
	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/storage"
	"github.com/gauss-stream/gauss/internal/topic"
	"github.com/gauss-stream/gauss/internal/topicrecord"
	"github.com/gauss-stream/gauss/internal/value"
)

// TestBuildRingTopologyShape builds a config with a single ring topic, a
// source, and a sink, and checks the resulting Topology is shaped the way
// the builder promises: one topic, one source, one sink, one
// sink subscription wired to it, and a topology a Supervisor accepts.
func TestBuildRingTopologyShape(t *testing.T) {
	cfg := &config.Config{
		Topics: []config.TopicConfig{
			{Name: "ticks", Storage: "ring", StorageConfig: map[string]any{"storage_size": 1000}},
		},
		Processors: []config.ProcessorConfig{
			{
				Name:   "ingest",
				Plugin: "source",
				Target: &config.ProcessorTargetRef{Topic: "ticks"},
				Config: config.ProcessorChannelPair{
					Input: config.ChannelConfig{Framing: "newline"},
				},
			},
			{
				Name:   "archive",
				Plugin: "sink",
				Source: &config.ProcessorSourceRef{Topic: "ticks", Read: "offset", Policy: "block"},
				Config: config.ProcessorChannelPair{
					Output: config.ChannelConfig{Framing: "newline"},
				},
			},
		},
	}

	built, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, built.Topology.Topics, 1)
	require.Len(t, built.Topology.Sources, 1)
	require.Len(t, built.Topology.Sinks, 1)
	require.Len(t, built.Topology.SinkSubs, 1)
	require.Equal(t, 1, built.Registry.Loaded())

	sup := pipeline.NewSupervisor(built.Topology)
	require.NoError(t, sup.Validate())
	require.Equal(t, pipeline.StateResolved, sup.State())
}

// TestBuildUnknownTopicIsConfigError covers the start-time-fatal path: a
// processor referencing an undeclared topic fails Build rather than
// panicking or silently no-op-ing.
func TestBuildUnknownTopicIsConfigError(t *testing.T) {
	cfg := &config.Config{
		Processors: []config.ProcessorConfig{
			{
				Name:   "archive",
				Plugin: "sink",
				Source: &config.ProcessorSourceRef{Topic: "missing"},
			},
		},
	}
	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

// TestBindAliasesMaterializesConfiguredInstance covers the converter
// alias-binding rule: a [[converters]] entry's own config is baked into
// the instance once, and every later load-by-name returns that exact
// instance regardless of what config the caller passes (mirroring the
// mapping resolver's always-nil-config lookup).
func TestBindAliasesMaterializesConfiguredInstance(t *testing.T) {
	reg := registry.New()
	require.NoError(t, convert.RegisterBuiltins(reg))

	err := bindAliases(reg, registry.KindConverter, []config.ConverterConfig{
		{Name: "cents", Plugin: "decimal-rescale", Config: map[string]any{"target_scale": 2}},
	}, func(c config.ConverterConfig) (string, string, map[string]any) {
		return c.Name, c.Plugin, c.Config
	})
	require.NoError(t, err)

	h, _, err := reg.Load(registry.KindConverter, "cents", map[string]any{"target_scale": 9})
	require.NoError(t, err)
	inst, err := reg.Instance(h)
	require.NoError(t, err)
	conv, ok := inst.(convert.Converter)
	require.True(t, ok)
	require.Equal(t, convert.DecimalRescale{TargetScale: 2}, conv)
}

func TestMatchTopicNames(t *testing.T) {
	names := []string{"trades.btc", "trades.eth", "quotes.btc"}

	exact, err := matchTopicNames(names, "trades.btc")
	require.NoError(t, err)
	require.Equal(t, []string{"trades.btc"}, exact)

	globbed, err := matchTopicNames(names, "trades.*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"trades.btc", "trades.eth"}, globbed)

	none, err := matchTopicNames(names, "orders.*")
	require.NoError(t, err)
	require.Empty(t, none)
}

// TestResolveSourceChannelFansInGlobMatches covers the topic-name-glob
// supplement: a processor whose source.topic is a pattern reads from
// every matching topic's subscription, merged onto one channel.
func TestResolveSourceChannelFansInGlobMatches(t *testing.T) {
	ctx := context.Background()
	btc := storage.NewRing(storage.RingConfig{Capacity: 10, Policy: topic.PolicyBlock})
	require.NoError(t, btc.Init(ctx, topic.Context{}))
	eth := storage.NewRing(storage.RingConfig{Capacity: 10, Policy: topic.PolicyBlock})
	require.NoError(t, eth.Init(ctx, topic.Context{}))

	topics := map[string]*topic.Topic{
		"trades.btc": topic.New("trades.btc", btc, nil),
		"trades.eth": topic.New("trades.eth", eth, nil),
	}
	names := []string{"trades.btc", "trades.eth"}

	input, subs, err := resolveSourceChannel(topics, names, &config.ProcessorSourceRef{Topic: "trades.*", Read: "offset", Policy: "block", BufferSize: 10})
	require.NoError(t, err)
	require.Len(t, subs, 2)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for _, sub := range subs {
		go sub.Run(subCtx)
	}

	require.NoError(t, topics["trades.btc"].Save(ctx, topicrecord.New(1, []byte("a"))))
	require.NoError(t, topics["trades.eth"].Save(ctx, topicrecord.New(2, []byte("b"))))

	seen := map[int64]bool{}
	for i := 0; i < 2; i++ {
		rec := <-input
		seen[rec.TsMs] = true
	}
	require.True(t, seen[1])
	require.True(t, seen[2])
}

// TestConcatJoinOutput exercises the default join combiner: matched left
// and right rows concatenate left-then-right.
func TestConcatJoinOutput(t *testing.T) {
	left := value.Row{value.Int64(1)}
	right := value.Row{value.OwnedString("x")}
	out := concatJoinOutput(left, right)
	require.Len(t, out, 2)
	i, ok := out[0].Int64()
	require.True(t, ok)
	require.Equal(t, int64(1), i)
}

// TestBuildPassthroughArbitratesByEndpointShape: the path/addr pairing of
// a passthrough's two sides decides which supervisor tier it lands in.
func TestBuildPassthroughArbitratesByEndpointShape(t *testing.T) {
	ctx := context.Background()

	replay, err := buildPassthrough(ctx, config.ProcessorConfig{
		Name:   "replay",
		Plugin: "passthrough",
		Config: config.ProcessorChannelPair{
			Input:  config.ChannelConfig{Path: "/var/lib/gauss/segment-000000.log"},
			Output: config.ChannelConfig{Addr: "127.0.0.1:9999"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, processor.KindSink, replay.Kind())
	require.False(t, replay.Framed())

	capture, err := buildPassthrough(ctx, config.ProcessorConfig{
		Name:   "capture",
		Plugin: "passthrough",
		Config: config.ProcessorChannelPair{
			Input:  config.ChannelConfig{Addr: "127.0.0.1:9998"},
			Output: config.ChannelConfig{Path: "/var/lib/gauss/raw.cap"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, processor.KindSource, capture.Kind())
}

func TestBuildPassthroughRejectsFramingAndAmbiguousEndpoints(t *testing.T) {
	ctx := context.Background()

	_, err := buildPassthrough(ctx, config.ProcessorConfig{
		Name:   "framed",
		Plugin: "passthrough",
		Config: config.ProcessorChannelPair{
			Input:  config.ChannelConfig{Path: "/tmp/in", Framing: "newline"},
			Output: config.ChannelConfig{Addr: "127.0.0.1:9999"},
		},
	})
	require.Error(t, err)

	_, err = buildPassthrough(ctx, config.ProcessorConfig{
		Name:   "both",
		Plugin: "passthrough",
		Config: config.ProcessorChannelPair{
			Input:  config.ChannelConfig{Path: "/tmp/in", Addr: "127.0.0.1:1"},
			Output: config.ChannelConfig{Addr: "127.0.0.1:9999"},
		},
	})
	require.Error(t, err)
}

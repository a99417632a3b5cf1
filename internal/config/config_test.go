package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	require.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	require.True(t, cfg.Metrics.Enabled)
	require.Empty(t, cfg.Topics)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
}

func TestValidate_DuplicateTopicNames(t *testing.T) {
	cfg := Default()
	cfg.Topics = []TopicConfig{
		{Name: "trades", Storage: "ring"},
		{Name: "trades", Storage: "table"},
	}

	err := Validate(cfg)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	found := false
	for _, e := range errs {
		if e.Field == "topics[trades]" {
			found = true
		}
	}
	require.True(t, found, "expected a duplicate-name error for topics[trades]")
}

func TestValidate_UnknownReadMode(t *testing.T) {
	cfg := Default()
	cfg.Processors = []ProcessorConfig{
		{Name: "consume", Source: &ProcessorSourceRef{Topic: "trades", Read: "nonsense"}},
	}

	err := Validate(cfg)
	require.Error(t, err)

	var errs ValidationErrors
	require.ErrorAs(t, err, &errs)
	found := false
	for _, e := range errs {
		if e.Field == "processors[consume].source.read" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidate_LengthPrefixedRequiresPrefixType(t *testing.T) {
	cfg := Default()
	cfg.Processors = []ProcessorConfig{
		{
			Name: "ingest",
			Config: ProcessorChannelPair{
				Input: ChannelConfig{Framing: "length_prefixed"},
			},
		},
	}

	err := Validate(cfg)
	require.Error(t, err)
}

package storage

import (
	"context"
	"fmt"

	"github.com/gauss-stream/gauss/internal/registry"
	"github.com/gauss-stream/gauss/internal/topic"
)

// RegisterBuiltins registers the four concrete storage engines this build
// ships under their
// conventional plugin names: "ring", "table", "file", "columnar". Every
// constructor reads its config out of the `storage_config` blob the engine
// forwards verbatim, coercing TOML-via-viper's untyped
// map[string]any values the same way internal/convert's builtins coerce
// converter config.
func RegisterBuiltins(r *registry.Registry) error {
	builtins := map[string]registry.Constructor{
		"ring": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			capacity := int(toInt(cfg["storage_size"]))
			if capacity <= 0 {
				return nil, registry.Capabilities{}, fmt.Errorf("storage: ring requires a positive storage_size")
			}
			s := NewRing(RingConfig{Capacity: capacity, Policy: toPolicy(cfg["write_full"])})
			return s, registry.Capabilities{ReadModes: readModeNames(s.SupportedReadModes())}, nil
		},
		"table": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			keyField, _ := cfg["key_field"].(string)
			if keyField == "" {
				return nil, registry.Capabilities{}, fmt.Errorf("storage: table requires key_field")
			}
			name, _ := cfg["name"].(string)
			if name == "" {
				name = "gauss_table"
			}
			dsn, _ := cfg["dsn"].(string)
			s, err := NewTable(name, TableConfig{KeyField: keyField, DSN: dsn})
			if err != nil {
				return nil, registry.Capabilities{}, err
			}
			return s, registry.Capabilities{ReadModes: readModeNames(s.SupportedReadModes())}, nil
		},
		"file": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			dir, _ := cfg["dir"].(string)
			if dir == "" {
				return nil, registry.Capabilities{}, fmt.Errorf("storage: file requires dir")
			}
			compression, _ := cfg["compression"].(string)
			s := NewFile(FileConfig{
				Dir:             dir,
				Compression:     compression,
				MaxSegmentBytes: toInt(cfg["max_segment_bytes"]),
				Policy:          toPolicy(cfg["write_full"]),
			})
			return s, registry.Capabilities{ReadModes: readModeNames(s.SupportedReadModes())}, nil
		},
		"columnar": func(cfg map[string]any) (registry.Plugin, registry.Capabilities, error) {
			bucket, _ := cfg["bucket"].(string)
			region, _ := cfg["region"].(string)
			prefix, _ := cfg["prefix"].(string)
			endpoint, _ := cfg["endpoint"].(string)
			accessKeyID, _ := cfg["access_key_id"].(string)
			secretAccessKey, _ := cfg["secret_access_key"].(string)
			forcePathStyle, _ := cfg["force_path_style"].(bool)

			s, err := NewColumnar(context.Background(), ColumnarConfig{
				Bucket:          bucket,
				Prefix:          prefix,
				Region:          region,
				AccessKeyID:     accessKeyID,
				SecretAccessKey: secretAccessKey,
				Endpoint:        endpoint,
				ForcePathStyle:  forcePathStyle,
				FlushRecords:    int(toInt(cfg["flush_records"])),
			})
			if err != nil {
				return nil, registry.Capabilities{}, err
			}
			return s, registry.Capabilities{ReadModes: readModeNames(s.SupportedReadModes())}, nil
		},
	}

	for name, ctor := range builtins {
		if err := r.Register(registry.KindStorage, name, ctor); err != nil {
			return err
		}
	}
	return nil
}

func readModeNames(modes []topic.ReadMode) []string {
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = string(m)
	}
	return out
}

func toPolicy(v any) topic.BackPressurePolicy {
	s, _ := v.(string)
	switch s {
	case "drop":
		return topic.PolicyDrop
	case "overwrite":
		return topic.PolicyOverwrite
	default:
		return topic.PolicyBlock
	}
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/gauss-stream/gauss/internal/config"
	"github.com/gauss-stream/gauss/internal/processor"
	"github.com/gauss-stream/gauss/internal/transport"
	"github.com/gauss-stream/gauss/internal/zerocopy"
)

// buildPassthrough wires a zero-copy bypass processor: each side of the
// channel pair names either a file (path) or a socket (addr), and the
// pairing picks the zero-copy primitive. Framing and format keys are
// rejected up front — a path that needs framing or record construction is
// by definition not a zero-copy path.
func buildPassthrough(ctx context.Context, pc config.ProcessorConfig) (processor.Processor, error) {
	in, out := pc.Config.Input, pc.Config.Output
	for _, side := range []struct {
		name string
		ch   config.ChannelConfig
	}{{"input", in}, {"output", out}} {
		if side.ch.Format != "" || side.ch.Framing != "" {
			return nil, fmt.Errorf("bootstrap: processors[%s]: passthrough %s cannot configure format or framing", pc.Name, side.name)
		}
		if (side.ch.Path == "") == (side.ch.Addr == "") {
			return nil, fmt.Errorf("bootstrap: processors[%s]: passthrough %s needs exactly one of path or addr", pc.Name, side.name)
		}
	}

	prim, err := zerocopy.Select(
		zerocopy.Endpoint{File: filePlaceholder(in.Path)},
		zerocopy.Endpoint{File: filePlaceholder(out.Path)},
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}

	pt, err := processor.NewPassthrough(processor.PassthroughConfig{
		Name:       pc.Name,
		Primitive:  prim,
		OpenSource: openEndpoint(ctx, in, "listen", true),
		OpenTarget: openEndpoint(ctx, out, "dial", false),
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: processors[%s]: %w", pc.Name, err)
	}
	return pt, nil
}

// filePlaceholder lets Select arbitrate on configuration shape alone,
// before any endpoint is actually opened: Select only inspects which side
// of the Endpoint union is non-nil.
func filePlaceholder(path string) *os.File {
	if path == "" {
		return nil
	}
	return new(os.File)
}

// openEndpoint resolves one side of a passthrough into a lazy
// zerocopy.Endpoint opener: a path opens as a file (read side opens
// existing, write side appends/creates), an addr dials or listens per the
// same mode defaults openReader/openWriter use.
func openEndpoint(ctx context.Context, ch config.ChannelConfig, defaultMode string, read bool) processor.EndpointOpener {
	if ch.Path != "" {
		return func(context.Context) (zerocopy.Endpoint, error) {
			var f *os.File
			var err error
			if read {
				f, err = os.Open(ch.Path)
			} else {
				f, err = os.OpenFile(ch.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			}
			if err != nil {
				return zerocopy.Endpoint{}, err
			}
			return zerocopy.Endpoint{File: f}, nil
		}
	}

	mode := ch.Mode
	if mode == "" {
		mode = defaultMode
	}
	addr := ch.Addr
	switch mode {
	case "listen":
		return func(runCtx context.Context) (zerocopy.Endpoint, error) {
			conn, err := acceptOne(runCtx, addr)
			if err != nil {
				return zerocopy.Endpoint{}, err
			}
			return zerocopy.Endpoint{Conn: conn}, nil
		}
	case "dial":
		return func(runCtx context.Context) (zerocopy.Endpoint, error) {
			conn, err := transport.TCPDial(runCtx, addr)
			if err != nil {
				return zerocopy.Endpoint{}, err
			}
			return zerocopy.Endpoint{Conn: conn}, nil
		}
	default:
		return func(context.Context) (zerocopy.Endpoint, error) {
			return zerocopy.Endpoint{}, fmt.Errorf("unknown channel mode %q (want listen or dial)", mode)
		}
	}
}

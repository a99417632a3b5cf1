package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gauss-stream/gauss/internal/zerocopy"
)

// EndpointOpener lazily opens one side of a zero-copy path. Opening is
// deferred to Run for the same reason bootstrap's lazyConn defers dialing:
// topology construction happens before peers are reachable.
type EndpointOpener func(ctx context.Context) (zerocopy.Endpoint, error)

// PassthroughConfig configures a Passthrough processor.
type PassthroughConfig struct {
	Name string
	// Primitive is the endpoint-pair shape the configuration resolved to;
	// it decides which supervisor tier the processor runs in (see Kind)
	// and is logged so an operator can see which kernel path was chosen.
	Primitive  zerocopy.Primitive
	OpenSource EndpointOpener
	OpenTarget EndpointOpener
}

// Passthrough is the zero-copy bypass processor: it never materializes a
// TopicRecord, assigns no ts_ms, and moves bytes between its two endpoints
// with the zero-copy primitive matching their shapes. Framing, codecs, and
// topics do not apply; downstream consumers of its output must themselves
// be passthrough.
type Passthrough struct {
	base
	cfg PassthroughConfig
}

// NewPassthrough builds a Passthrough processor.
func NewPassthrough(cfg PassthroughConfig) (*Passthrough, error) {
	if cfg.OpenSource == nil || cfg.OpenTarget == nil {
		return nil, fmt.Errorf("processor %q: passthrough requires both endpoints", cfg.Name)
	}
	return &Passthrough{
		base: base{name: cfg.Name, stateful: false, active: true, framed: false},
		cfg:  cfg,
	}, nil
}

// Kind maps the primitive back onto the three processor variants: replay
// from a file is a sink, raw capture into a file is a source, and the
// proxy/rotation shapes behave like transforms for tiering purposes.
func (p *Passthrough) Kind() Kind {
	switch p.cfg.Primitive {
	case zerocopy.FileToSocket:
		return KindSink
	case zerocopy.SocketToFile:
		return KindSource
	default:
		return KindTransform
	}
}

// Run opens both endpoints and pumps bytes until the source drains or ctx
// is cancelled. Cancellation is a clean stop, not an error: the copy is
// unbounded by construction (a proxy has no natural end).
func (p *Passthrough) Run(ctx context.Context) error {
	if err := p.setLifecycle(LifecyclePhase1); err != nil {
		return err
	}
	defer p.setLifecycle(LifecycleStopped)

	src, err := p.cfg.OpenSource(ctx)
	if err != nil {
		return fatalf(p.name, "opening passthrough source: %w", err)
	}
	dst, err := p.cfg.OpenTarget(ctx)
	if err != nil {
		src.Close()
		return fatalf(p.name, "opening passthrough target: %w", err)
	}

	if err := p.setLifecycle(LifecycleSteady); err != nil {
		src.Close()
		dst.Close()
		return err
	}

	n, err := zerocopy.Copy(ctx, src, dst)
	p.setLifecycle(LifecycleStopping)
	src.Close()
	dst.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fatalf(p.name, "passthrough copy after %d bytes: %w", n, err)
	}
	log.Info().Str("processor", p.name).Str("primitive", string(p.cfg.Primitive)).Int64("bytes", n).Msg("passthrough drained")
	return nil
}

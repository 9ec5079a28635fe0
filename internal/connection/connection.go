// Package connection composes a telemetry source, a pipeline.Driver, and
// the subscription layer into the handful of calls an application needs:
// connect to a live session or open a recorded one, subscribe to frames,
// and shut down cleanly.
package connection

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/apexdata/pitwall/internal/adapter"
	"github.com/apexdata/pitwall/internal/archive"
	"github.com/apexdata/pitwall/internal/audit"
	"github.com/apexdata/pitwall/internal/live"
	"github.com/apexdata/pitwall/internal/metatext"
	"github.com/apexdata/pitwall/internal/pipeline"
	"github.com/apexdata/pitwall/internal/schema"
	"github.com/apexdata/pitwall/internal/stream"
	"github.com/apexdata/pitwall/internal/telemetrysource"
)

// Connection is the common handle returned by Connect and Open: a running
// pipeline.Driver over a telemetry source, plus the Schema needed to build
// an adapter.Plan.
type Connection struct {
	source telemetrysource.Source
	driver *pipeline.Driver
	cancel context.CancelFunc
	logger *slog.Logger
	audit  *audit.Logger
	kind   string
}

// Option configures a Connection at construction time.
type Option func(*options)

type options struct {
	logger *slog.Logger
	parser *metatext.Parser
	audit  *audit.Logger
}

// WithAuditLog records connected, reconnected, backoff-exhausted and
// shutdown lifecycle events to l.
// Without this option no audit trail is kept.
func WithAuditLog(l *audit.Logger) Option {
	return func(o *options) { o.audit = l }
}

// WithLogger overrides the connection's logger, threaded through to its
// pipeline.Driver.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithParser overrides the metadata parser used to decode session info
// blobs.
func WithParser(p *metatext.Parser) Option {
	return func(o *options) { o.parser = p }
}

func resolveOptions(opts []Option) *options {
	o := &options{logger: slog.Default(), parser: metatext.NewParser()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// newConnection starts a pipeline.Driver over source on a background
// goroutine scoped to ctx, returning a Connection the caller uses to
// subscribe and, eventually, Close.
func newConnection(ctx context.Context, source telemetrysource.Source, kind string, o *options) *Connection {
	driverCtx, cancel := context.WithCancel(ctx)

	c := &Connection{
		source: source,
		cancel: cancel,
		logger: o.logger,
		audit:  o.audit,
		kind:   kind,
	}

	driver := pipeline.NewDriver(source,
		pipeline.WithLogger(o.logger),
		pipeline.WithParser(o.parser),
		pipeline.WithReconnectHook(func() {
			c.recordEvent(audit.EventReconnected, "")
		}),
		pipeline.WithExhaustedHook(func(attempts int) {
			c.recordEvent(audit.EventBackoffExhausted, fmt.Sprintf("%d consecutive errors", attempts))
		}),
	)
	c.driver = driver
	go driver.Run(driverCtx)

	c.recordEvent(audit.EventConnected, "")
	return c
}

func (c *Connection) recordEvent(kind audit.EventKind, detail string) {
	if c.audit == nil {
		return
	}
	if _, err := c.audit.Append(audit.ConnectionEvent{
		Kind: kind, Source: c.kind, Detail: detail,
	}); err != nil {
		c.logger.Warn("connection: audit log append failed", slog.Any("error", err))
	}
}

// Connect attaches to the simulator's live shared-memory session. On
// non-Windows platforms this returns a Platform error.
func Connect(ctx context.Context, opts ...Option) (*Connection, error) {
	o := resolveOptions(opts)
	src, err := live.Attach(live.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return newConnection(ctx, src, "live", o), nil
}

// Open maps a recorded archive file at path and replays it at its native
// pacing.
func Open(ctx context.Context, path string, opts ...Option) (*Connection, error) {
	o := resolveOptions(opts)
	src, err := archive.Open(path, archive.WithLogger(o.logger))
	if err != nil {
		return nil, err
	}
	return newConnection(ctx, src, "archive", o), nil
}

// Schema returns the underlying source's variable schema.
func (c *Connection) Schema() *schema.Schema {
	return c.source.Schema()
}

// NativeHz returns the underlying source's native update rate.
func (c *Connection) NativeHz() float64 {
	return c.source.NativeHz()
}

// resolveRate treats a Hz at or above the source's native rate as Native.
func (c *Connection) resolveRate(rate stream.Rate) stream.Rate {
	if !rate.Native && rate.Hz >= c.NativeHz() {
		return stream.Rate{Native: true}
	}
	return rate
}

// Frames returns a channel of T values decoded from each published frame
// per plan, at the cadence rate describes.
func Frames[T any](
	c *Connection,
	ctx context.Context,
	plan *adapter.Plan,
	rate stream.Rate,
) (<-chan T, *stream.Subscription) {
	return stream.Subscribe(ctx, c.driver.FrameSlot, c.resolveRate(rate),
		func(frame *telemetrysource.Frame) (T, error) {
			return adapter.Apply[T](frame, plan)
		},
		func(frame *telemetrysource.Frame) bool { return frame == nil },
	)
}

// RawFrames returns a channel of undecoded frames at the cadence rate
// describes, for exploratory or schema-agnostic use (e.g. adapter.
// DynamicFrame) where no compile-time struct is available to build a
// Plan against.
func RawFrames(c *Connection, ctx context.Context, rate stream.Rate) (<-chan *telemetrysource.Frame, *stream.Subscription) {
	return stream.Subscribe(ctx, c.driver.FrameSlot, c.resolveRate(rate),
		func(frame *telemetrysource.Frame) (*telemetrysource.Frame, error) {
			return frame, nil
		},
		func(frame *telemetrysource.Frame) bool { return frame == nil },
	)
}

// Session returns the latest decoded session metadata tree, or nil if
// none has been parsed yet.
func (c *Connection) Session() *metatext.SessionTree {
	tree, _ := c.driver.MetaSlot.Get()
	return tree
}

// Sessions returns a channel delivering a new *metatext.SessionTree each
// time the connection's session metadata is re-parsed, at the cadence
// rate describes. Unlike Session's one-shot poll, this is the operation
// to use for reacting to mid-session metadata changes (driver swaps,
// session restarts) as they happen.
func Sessions(c *Connection, ctx context.Context, rate stream.Rate) (<-chan *metatext.SessionTree, *stream.Subscription) {
	return stream.Subscribe(ctx, c.driver.MetaSlot, rate,
		func(tree *metatext.SessionTree) (*metatext.SessionTree, error) {
			return tree, nil
		},
		func(tree *metatext.SessionTree) bool { return false },
	)
}

// Close stops the connection's pipeline driver and releases the
// underlying source.
func (c *Connection) Close() error {
	c.recordEvent(audit.EventShutdown, "")
	c.cancel()
	<-c.driver.Done()
	return c.source.Close()
}

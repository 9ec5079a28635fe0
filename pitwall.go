// Package pitwall is the top-level entry point for reading simulator
// telemetry: Connect to a live session, Open a recorded one, and
// subscribe to decoded frames at native or throttled rates. It composes
// internal/connection, internal/adapter, and internal/stream behind a
// single small surface.
package pitwall

import (
	"context"
	"log/slog"

	"github.com/apexdata/pitwall/internal/adapter"
	"github.com/apexdata/pitwall/internal/audit"
	"github.com/apexdata/pitwall/internal/connection"
	"github.com/apexdata/pitwall/internal/metatext"
	"github.com/apexdata/pitwall/internal/schema"
	"github.com/apexdata/pitwall/internal/stream"
	"github.com/apexdata/pitwall/internal/telemetrysource"
)

// Connection is a handle to a running telemetry source, live or archived.
type Connection = connection.Connection

// Option configures a Connection at construction time.
type Option = connection.Option

// WithLogger overrides the connection's logger.
func WithLogger(logger *slog.Logger) Option { return connection.WithLogger(logger) }

// WithAuditLog records connect/reconnect/backoff-exhausted/shutdown
// lifecycle events to l as a hash-chained append-only log.
func WithAuditLog(l *audit.Logger) Option { return connection.WithAuditLog(l) }

// WithParser overrides the metadata parser used to decode session info
// blobs.
func WithParser(p *metatext.Parser) Option { return connection.WithParser(p) }

// Connect attaches to the simulator's live shared-memory session.
func Connect(ctx context.Context, opts ...Option) (*Connection, error) {
	return connection.Connect(ctx, opts...)
}

// Open maps a recorded archive file at path and replays it at its native
// pacing.
func Open(ctx context.Context, path string, opts ...Option) (*Connection, error) {
	return connection.Open(ctx, path, opts...)
}

// Rate selects how often a subscription receives a decoded frame.
type Rate = stream.Rate

// Subscription is a live handle returned by Frames/RawFrames; Unsubscribe
// stops delivery and closes the channel.
type Subscription = stream.Subscription

// Native subscribes at the source's own update rate: the latest frame is
// delivered on each change the subscription observes.
func Native() Rate { return Rate{Native: true} }

// Max subscribes at hz, throttling a faster source by dropping
// intermediate frames between ticks. Frames and RawFrames treat hz >= the
// source's native rate as Native.
func Max(hz float64) Rate { return Rate{Hz: hz} }

// Schema, VarInfo, and FieldSpec/Plan re-exports so callers building an
// adapter.Plan against a Connection's Schema don't need a second import.
type (
	Schema    = schema.Schema
	VarInfo   = schema.VarInfo
	FieldSpec = adapter.FieldSpec
	Plan      = adapter.Plan
)

// Required, Optional, WithDefault, Calculated, and Skipped mirror
// adapter.FieldOpKind for building FieldSpec maps without importing
// internal/adapter directly.
const (
	Required    = adapter.Required
	Optional    = adapter.Optional
	WithDefault = adapter.WithDefault
	Calculated  = adapter.Calculated
	Skipped     = adapter.Skipped
)

// ValidatePlan binds dest's fields against s per fields, returning a Plan
// that Frames can use to decode each published frame into a T.
func ValidatePlan(s *Schema, dest any, fields map[string]FieldSpec) (*Plan, error) {
	return adapter.Validate(s, dest, fields)
}

// Frames subscribes to c's decoded frames at rate, applying plan to each
// one. The returned Subscription's Unsubscribe stops delivery; the
// channel closes once Unsubscribe is called or ctx is done.
func Frames[T any](c *Connection, ctx context.Context, plan *Plan, rate Rate) (<-chan T, *stream.Subscription) {
	return connection.Frames[T](c, ctx, plan, rate)
}

// RawFrame is an undecoded telemetry frame, for use with DynamicFrame
// when no compile-time struct is available to build a Plan against.
type RawFrame = telemetrysource.Frame

// DynamicFrame is the by-name exploratory fallback over a RawFrame: a
// schema lookup per Get, not the hot path Frames/ValidatePlan are.
type DynamicFrame = adapter.DynamicFrame

// NewDynamicFrame wraps frame for by-name field access against s.
func NewDynamicFrame(s *Schema, frame *RawFrame) *DynamicFrame {
	return adapter.NewDynamicFrame(s, frame)
}

// RawFrames subscribes to c's undecoded frames at rate, for exploratory
// tools that walk a schema by name rather than binding a fixed struct.
func RawFrames(c *Connection, ctx context.Context, rate Rate) (<-chan *RawFrame, *stream.Subscription) {
	return connection.RawFrames(c, ctx, rate)
}

// SessionTree is a parsed session metadata document.
type SessionTree = metatext.SessionTree

// Sessions subscribes to c's parsed session metadata at rate, delivering
// a new SessionTree each time the connection picks up a change, as
// opposed to the one-shot poll Connection.Session performs.
func Sessions(c *Connection, ctx context.Context, rate Rate) (<-chan *SessionTree, *stream.Subscription) {
	return connection.Sessions(c, ctx, rate)
}

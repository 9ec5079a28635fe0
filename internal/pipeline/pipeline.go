package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/apexdata/pitwall/internal/metatext"
	"github.com/apexdata/pitwall/internal/telemetrysource"
)

// maxConsecutiveErrors bounds how many back-to-back NextFrame errors the
// driver tolerates before giving up and ending the stream: a telemetry
// source that keeps failing this many times in a row is not coming back
// on its own.
const maxConsecutiveErrors = 10

// backoff parameters reproduce 50ms * 2^min(n,5), capped at 1.6s, with no
// jitter so the schedule is exactly reproducible in tests.
const (
	initialBackoff    = 50 * time.Millisecond
	maxBackoff        = 1600 * time.Millisecond
	backoffMultiplier = 2.0
)

// Driver owns a telemetrysource.Source and runs its read loop on a single
// goroutine, publishing the latest frame and session tree into Slots that
// any number of readers can consume without blocking the driver.
type Driver struct {
	source telemetrysource.Source
	logger *slog.Logger
	parser *metatext.Parser

	FrameSlot *Slot[*telemetrysource.Frame]
	MetaSlot  *Slot[*metatext.SessionTree]

	onReconnect func()
	onExhausted func(attempts int)

	done chan struct{}
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger overrides the driver's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithParser overrides the metadata parser used for session tree decoding.
func WithParser(p *metatext.Parser) Option {
	return func(d *Driver) { d.parser = p }
}

// WithReconnectHook calls fn whenever the driver recovers from one or
// more consecutive read errors (the error counter resets to zero after a
// successful NextFrame that followed at least one failure).
func WithReconnectHook(fn func()) Option {
	return func(d *Driver) { d.onReconnect = fn }
}

// WithExhaustedHook calls fn with the final attempt count when the driver
// gives up after maxConsecutiveErrors consecutive failures.
func WithExhaustedHook(fn func(attempts int)) Option {
	return func(d *Driver) { d.onExhausted = fn }
}

// NewDriver constructs a Driver over source. Call Run to start its read
// loop; Run blocks until the source ends, hits the consecutive-error cap,
// or ctx is cancelled.
func NewDriver(source telemetrysource.Source, opts ...Option) *Driver {
	d := &Driver{
		source:    source,
		logger:    slog.Default(),
		parser:    metatext.NewParser(),
		FrameSlot: NewSlot[*telemetrysource.Frame](),
		MetaSlot:  NewSlot[*metatext.SessionTree](),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Done returns a channel closed once Run returns.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Run drives the source until it ends, the error cap is reached, or ctx is
// cancelled. When the source ends or the error cap is reached it publishes
// a nil frame to FrameSlot as an end-of-stream signal; on every exit,
// cancellation included, it closes both slots.
func (d *Driver) Run(ctx context.Context) {
	defer close(d.done)
	defer d.FrameSlot.Close()
	defer d.MetaSlot.Close()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff
	b.Multiplier = backoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	consecutiveErrors := 0
	metaVersion := -1

	for {
		if ctx.Err() != nil {
			return
		}

		frame, err := d.source.NextFrame(ctx)
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			consecutiveErrors++
			d.logger.Warn("pipeline: frame read failed",
				slog.Any("error", err), slog.Int("consecutive_errors", consecutiveErrors))

			if consecutiveErrors >= maxConsecutiveErrors {
				d.logger.Error("pipeline: giving up after repeated errors",
					slog.Int("attempts", consecutiveErrors))
				if d.onExhausted != nil {
					d.onExhausted(consecutiveErrors)
				}
				d.FrameSlot.Set(nil)
				return
			}

			wait := b.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		if consecutiveErrors > 0 && d.onReconnect != nil {
			d.onReconnect()
		}
		consecutiveErrors = 0
		b.Reset()

		if frame == nil {
			// End-of-stream: source is exhausted or permanently disconnected.
			d.FrameSlot.Set(nil)
			return
		}

		if frame.MetadataVersion != metaVersion {
			metaVersion = frame.MetadataVersion
			go d.refreshMetadata(ctx, metaVersion)
		}

		d.FrameSlot.Set(frame)
	}
}

// noBlobFetchedYet is passed to Source.SessionBlob in place of a version
// the driver has already parsed. SessionBlob treats its argument as "the
// version the caller already holds" and short-circuits to (nil, nil) when
// it equals the source's current version; since refreshMetadata is only
// spawned when the frame stream's version has just changed, it has never
// held this new version, so it must pass a sentinel that cannot equal any
// real version rather than the new version itself.
const noBlobFetchedYet = -1

// refreshMetadata fetches and parses the session metadata blob for version
// off the hot path, publishing the result to MetaSlot on success. Parse
// failures are logged and otherwise ignored: a malformed metadata blob
// should never stop telemetry from flowing.
func (d *Driver) refreshMetadata(ctx context.Context, version int) {
	blob, err := d.source.SessionBlob(ctx, noBlobFetchedYet)
	if err != nil {
		d.logger.Warn("pipeline: session metadata fetch failed",
			slog.Any("error", err), slog.Int("version", version))
		return
	}
	if blob == nil {
		return
	}

	tree, err := d.parser.Parse(string(blob))
	if err != nil {
		d.logger.Warn("pipeline: session metadata parse failed",
			slog.Any("error", err), slog.Int("version", version))
		return
	}

	d.MetaSlot.Set(tree)
}

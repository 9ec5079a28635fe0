// Package telemetrysource defines the uniform producer interface shared by
// the live and archive sources: a small surface any transport can
// implement without the pipeline caring which one it's driving.
package telemetrysource

import (
	"context"

	"github.com/apexdata/pitwall/internal/schema"
)

// Frame is one fully-consistent frame buffer paired with its tick and
// metadata version. Buf is exactly schema.FrameSize() bytes.
type Frame struct {
	Buf             []byte
	Tick            uint32
	MetadataVersion int
}

// Source is implemented by both the live and archive producers. NextFrame
// may block or suspend; it returns (nil, nil) at end-of-stream and a
// non-nil error for a failed read, which the pipeline driver retries with
// backoff until its consecutive-error cap.
type Source interface {
	// NextFrame blocks until a new frame is available, the source ends,
	// or ctx is cancelled.
	NextFrame(ctx context.Context) (*Frame, error)
	// SessionBlob returns the raw session metadata text when it differs
	// from version, or (nil, nil) if version is already current. A
	// source that never changes metadata (archives) may ignore version.
	SessionBlob(ctx context.Context, version int) ([]byte, error)
	// NativeHz returns the source's native update rate.
	NativeHz() float64
	// Schema returns the source's variable schema.
	Schema() *schema.Schema
	// Close releases resources held by the source.
	Close() error
}

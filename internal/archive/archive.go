// Package archive implements the recorded-file telemetry source: it maps
// a recorded archive file into memory, parses its headers, and delivers
// frames sequentially (or by seek) with playback pacing.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	mmap "github.com/edsrzf/mmap-go"

	"github.com/apexdata/pitwall/internal/pitwallerr"
	"github.com/apexdata/pitwall/internal/schema"
	"github.com/apexdata/pitwall/internal/telemetrysource"
)

// Source is a telemetry producer backed by a memory-mapped recorded
// archive file. It implements the same shape as the live source: blocking
// NextFrame, versioned SessionBlob, and NativeHz.
type Source struct {
	logger *slog.Logger

	f    *os.File
	data mmap.MMap

	header    mainHeader
	sub       subHeader
	schema    *schema.Schema
	frameSize int

	frameDataStart int
	totalFrames    int
	metaVersion    int

	speed  float64
	ticker *time.Ticker

	mu      sync.Mutex
	nextIdx int
}

// Option configures a Source at Open time.
type Option func(*Source)

// WithLogger overrides the source's logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// WithSpeed sets the playback speed multiplier, clamped to [0.1, 10.0].
func WithSpeed(speed float64) Option {
	return func(s *Source) {
		if speed < 0.1 {
			speed = 0.1
		}
		if speed > 10.0 {
			speed = 10.0
		}
		s.speed = speed
	}
}

// Open maps path into memory and parses its headers and variable schema.
func Open(path string, opts ...Option) (*Source, error) {
	s := &Source{logger: slog.Default(), speed: 1.0}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.Open(path)
	if err != nil {
		e := pitwallerr.New(pitwallerr.FileError, fmt.Sprintf("cannot open %q", path), err)
		e.Path = path
		return nil, e
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		e := pitwallerr.New(pitwallerr.FileError, fmt.Sprintf("cannot map %q", path), err)
		e.Path = path
		return nil, e
	}

	s.f = f
	s.data = data

	if err := s.parseHeaders(); err != nil {
		data.Unmap()
		f.Close()
		return nil, err
	}

	interval := s.tickInterval()
	s.ticker = time.NewTicker(interval)

	return s, nil
}

func (s *Source) parseHeaders() error {
	h, err := parseMainHeader(s.data)
	if err != nil {
		return err
	}
	s.header = h
	s.metaVersion = int(h.SessionInfoUpdate)

	if len(s.data) < mainHeaderSize+subHeaderSize {
		return pitwallerr.New(pitwallerr.Parse, "file too short for sub-header", nil)
	}
	sub, err := parseSubHeader(s.data[mainHeaderSize : mainHeaderSize+subHeaderSize])
	if err != nil {
		return err
	}
	s.sub = sub

	sc, err := extractVariables(s.logger, s.data, h)
	if err != nil {
		return err
	}
	s.schema = sc
	s.frameSize = int(h.BufLen)

	varHeadersEnd := int(h.VarHeaderOffset) + int(h.NumVars)*varHeaderSize
	sessionEnd := int(h.SessionInfoOffset) + int(h.SessionInfoLen)
	frameDataStart := varHeadersEnd
	if sessionEnd > frameDataStart {
		frameDataStart = sessionEnd
	}
	s.frameDataStart = frameDataStart

	total := 0
	if s.frameSize > 0 {
		total = (len(s.data) - frameDataStart) / s.frameSize
	}
	if total < 0 {
		total = 0
	}
	if int(sub.RecordCount) != total {
		s.logger.Warn("archive record_count disagrees with computed frame count",
			slog.Int("record_count", int(sub.RecordCount)), slog.Int("computed", total))
	}
	s.totalFrames = total

	return nil
}

func (s *Source) tickInterval() time.Duration {
	hz := s.NativeHz()
	if hz <= 0 {
		hz = 60
	}
	seconds := 1.0 / (hz * s.speed)
	return time.Duration(seconds * float64(time.Second))
}

// NativeHz returns the archive's recorded tick rate, defaulting to 60 when
// the header field is non-positive.
func (s *Source) NativeHz() float64 {
	if s.header.TickRate > 0 {
		return float64(s.header.TickRate)
	}
	return 60
}

// Schema returns the archive's parsed variable schema.
func (s *Source) Schema() *schema.Schema {
	return s.schema
}

// SeekToFrame repositions the next read to frame index i.
func (s *Source) SeekToFrame(i int) error {
	if i < 0 || i > s.totalFrames {
		return pitwallerr.New(pitwallerr.Parse, fmt.Sprintf("seek index %d out of range [0,%d]", i, s.totalFrames), nil)
	}
	s.mu.Lock()
	s.nextIdx = i
	s.mu.Unlock()
	return nil
}

// NextFrame blocks until the pacing ticker fires, then returns the next
// sequential frame. It returns (nil, nil) at end-of-archive.
func (s *Source) NextFrame(ctx context.Context) (*telemetrysource.Frame, error) {
	s.mu.Lock()
	idx := s.nextIdx
	s.mu.Unlock()

	if idx >= s.totalFrames {
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}

	off := s.frameDataStart + idx*s.frameSize
	if off < 0 || off+s.frameSize > len(s.data) {
		e := pitwallerr.New(pitwallerr.MemoryAccess, fmt.Sprintf("frame %d out of bounds", idx), nil)
		e.Offset = int64(off)
		return nil, e
	}
	buf := make([]byte, s.frameSize)
	copy(buf, s.data[off:off+s.frameSize])

	s.mu.Lock()
	s.nextIdx = idx + 1
	s.mu.Unlock()

	return &telemetrysource.Frame{Buf: buf, Tick: uint32(idx), MetadataVersion: s.metaVersion}, nil
}

// SessionBlob returns the raw, NUL-terminated session metadata text. The
// archive's metadata is static, so version is ignored beyond an equality
// check against the header's own version: a caller that already has the
// current version receives (nil, nil).
func (s *Source) SessionBlob(ctx context.Context, version int) ([]byte, error) {
	if version == s.metaVersion {
		return nil, nil
	}
	start := int(s.header.SessionInfoOffset)
	length := int(s.header.SessionInfoLen)
	if start < 0 || length < 0 || start+length > len(s.data) {
		e := pitwallerr.New(pitwallerr.MemoryAccess, "session info range out of bounds", nil)
		e.Offset = int64(start)
		return nil, e
	}
	raw := s.data[start : start+length]
	if i := indexNUL(raw); i >= 0 {
		raw = raw[:i]
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out, nil
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// Close releases the archive's memory mapping and file handle.
func (s *Source) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if err := s.data.Unmap(); err != nil {
		return err
	}
	return s.f.Close()
}

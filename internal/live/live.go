// Package live implements the shared-memory telemetry source: it attaches
// to the simulator's live shared-memory segment and implements the
// multi-buffer "latest wins" read with double-read consistency.
//
// Build-tag conventions, splitting the real attach from its stub:
//
//	//go:build windows  → live_windows.go (real shared-memory attach)
//	//go:build !windows → live_stub.go    (returns a Platform error)
//
// live_windows.go registers its attach implementation via init();
// live_stub.go registers nothing, so Attach returns a Platform error.
package live

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/apexdata/pitwall/internal/cellcode"
	"github.com/apexdata/pitwall/internal/pitwallerr"
	"github.com/apexdata/pitwall/internal/schema"
	"github.com/apexdata/pitwall/internal/telemetrysource"
)

const (
	headerSize  = 112
	maxBufs     = 4
	varBufSize  = 16
	varHeaderSize = 144
	varNameSize   = 32
	varDescSize   = 64
	varUnitSize   = 32

	pollTimeout        = 500 * time.Millisecond
	disconnectedExpiry = 5 * time.Minute
)

// attachment is the narrow contract a platform-specific attach
// implementation must satisfy: a read-only view of the shared segment plus
// a way to wait for the simulator's update event with a timeout.
type attachment interface {
	// Base returns the current contents of the shared memory segment.
	// Implementations may return a fresh snapshot or a live view; the
	// Source only ever reads from the returned slice.
	Base() []byte
	// WaitUpdate blocks until the simulator signals new data or timeout
	// elapses, returning true if signalled.
	WaitUpdate(timeout time.Duration) bool
	// Close releases the OS resources held by the attachment.
	Close() error
}

// platformAttach is registered by the build-tag-selected platform file.
// When nil, Attach returns a Platform error.
var platformAttach func() (attachment, error)

// Source is the live shared-memory telemetry producer.
type Source struct {
	logger *slog.Logger

	att    attachment
	schema *schema.Schema

	lastTick      uint32
	lastConnected time.Time

	metaVersion int

	mu sync.Mutex
}

// Option configures a Source at Attach time.
type Option func(*Source)

// WithLogger overrides the source's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// Attach connects to the simulator's live shared-memory segment. On any
// platform other than Windows this returns a Platform error: the feature
// requires the simulator's native shared-memory API.
func Attach(opts ...Option) (*Source, error) {
	if platformAttach == nil {
		return nil, pitwallerr.New(pitwallerr.Platform, "live telemetry source requires Windows shared memory", nil)
	}

	att, err := platformAttach()
	if err != nil {
		return nil, err
	}

	s := &Source{
		logger:   slog.Default(),
		att:      att,
		lastTick: math.MaxUint32,
	}
	for _, opt := range opts {
		opt(s)
	}

	buf := att.Base()
	h, err := parseHeader(buf)
	if err != nil {
		att.Close()
		return nil, err
	}
	sc, err := extractSchema(s.logger, buf, h)
	if err != nil {
		att.Close()
		return nil, err
	}
	s.schema = sc
	s.metaVersion = int(h.SessionInfoUpdate)

	return s, nil
}

type header struct {
	Version           int32
	Status            int32
	TickRate          int32
	SessionInfoUpdate int32
	SessionInfoLen    int32
	SessionInfoOffset int32
	NumVars           int32
	VarHeaderOffset   int32
	NumBuf            int32
	BufLen            int32
	VarBuf            [maxBufs]varBuf
}

type varBuf struct {
	TickCount  uint32
	BufOffset  int32
}

func parseHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, pitwallerr.New(pitwallerr.Parse, "shared memory segment too short for header", nil)
	}
	h := header{
		Version:           int32(binary.LittleEndian.Uint32(buf[0:4])),
		Status:            int32(binary.LittleEndian.Uint32(buf[4:8])),
		TickRate:          int32(binary.LittleEndian.Uint32(buf[8:12])),
		SessionInfoUpdate: int32(binary.LittleEndian.Uint32(buf[12:16])),
		SessionInfoLen:    int32(binary.LittleEndian.Uint32(buf[16:20])),
		SessionInfoOffset: int32(binary.LittleEndian.Uint32(buf[20:24])),
		NumVars:           int32(binary.LittleEndian.Uint32(buf[24:28])),
		VarHeaderOffset:   int32(binary.LittleEndian.Uint32(buf[28:32])),
		NumBuf:            int32(binary.LittleEndian.Uint32(buf[32:36])),
		BufLen:            int32(binary.LittleEndian.Uint32(buf[36:40])),
	}
	// offset 40: pad[2] (8 bytes), var_buf starts at offset 48.
	for i := 0; i < maxBufs; i++ {
		off := 48 + i*varBufSize
		h.VarBuf[i] = varBuf{
			TickCount: binary.LittleEndian.Uint32(buf[off : off+4]),
			BufOffset: int32(binary.LittleEndian.Uint32(buf[off+4 : off+8])),
		}
	}
	return h, nil
}

func (h header) isConnected() bool {
	return h.Status&0x1 != 0
}

func extractSchema(logger *slog.Logger, buf []byte, h header) (*schema.Schema, error) {
	vars := make(map[string]schema.VarInfo, h.NumVars)
	start := int64(h.VarHeaderOffset)

	for i := int32(0); i < h.NumVars; i++ {
		off := start + int64(i)*varHeaderSize
		if off < 0 || off+varHeaderSize > int64(len(buf)) {
			return nil, pitwallerr.New(pitwallerr.Parse, fmt.Sprintf("variable header %d out of bounds", i), nil)
		}
		rec := buf[off : off+varHeaderSize]

		typeTag := int32(binary.LittleEndian.Uint32(rec[0:4]))
		offset := int32(binary.LittleEndian.Uint32(rec[4:8]))
		count := int32(binary.LittleEndian.Uint32(rec[8:12]))
		countIsTime := rec[12] != 0
		name := nulTerminated(rec[16 : 16+varNameSize])
		desc := nulTerminated(rec[48 : 48+varDescSize])
		unit := nulTerminated(rec[112 : 112+varUnitSize])

		if name == "" || offset < 0 || count <= 0 {
			continue
		}

		cellType, ok := mapCellType(typeTag)
		if !ok {
			logger.Debug("skipping live variable with unknown type tag",
				slog.String("name", name), slog.Int("type_tag", int(typeTag)))
			continue
		}

		vars[name] = schema.VarInfo{
			Name:        name,
			Type:        cellType,
			Offset:      int(offset),
			Count:       int(count),
			CountIsTime: countIsTime,
			Unit:        unit,
			Description: desc,
		}
	}

	return schema.New(vars, int(h.BufLen))
}

func nulTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Schema returns the live source's variable schema.
func (s *Source) Schema() *schema.Schema {
	return s.schema
}

// NativeHz returns the simulator's reported tick rate.
func (s *Source) NativeHz() float64 {
	buf := s.att.Base()
	h, err := parseHeader(buf)
	if err != nil || h.TickRate <= 0 {
		return 60
	}
	return float64(h.TickRate)
}

// latestConsistentFrame implements the multi-buffer "latest wins" read
// with double-read consistency: pick the buffer with the highest tick
// count, snapshot it, then verify the tick count didn't change mid-copy.
// On inconsistency it retries exactly once before giving up.
func (s *Source) latestConsistentFrame() (*telemetrysource.Frame, bool) {
	buf := s.att.Base()
	h, err := parseHeader(buf)
	if err != nil {
		return nil, false
	}

	frameSize := int(h.BufLen)
	numBuf := int(h.NumBuf)
	if numBuf > maxBufs {
		numBuf = maxBufs
	}

	for attempt := 0; attempt < 2; attempt++ {
		latest := -1
		var latestTick uint32
		for i := 0; i < numBuf; i++ {
			if latest == -1 || cellcode.TickAfter(h.VarBuf[i].TickCount, latestTick) {
				latest = i
				latestTick = h.VarBuf[i].TickCount
			}
		}
		if latest == -1 {
			return nil, false
		}

		before := h.VarBuf[latest].TickCount
		off := int(h.VarBuf[latest].BufOffset)
		if off < 0 || off+frameSize > len(buf) {
			return nil, false
		}
		frame := make([]byte, frameSize)
		copy(frame, buf[off:off+frameSize])

		// Re-read the header to check for a mid-copy tick change.
		h2, err := parseHeader(s.att.Base())
		if err != nil {
			return nil, false
		}
		after := h2.VarBuf[latest].TickCount

		if before == after {
			return &telemetrysource.Frame{
				Buf:             frame,
				Tick:            before,
				MetadataVersion: int(h2.SessionInfoUpdate),
			}, true
		}
		// Inconsistent: retry once against the freshly read header.
		buf = s.att.Base()
		h = h2
	}
	return nil, false
}

// NextFrame implements the blocking read loop: if disconnected, sleep and
// retry, emitting end-of-stream after disconnectedExpiry; otherwise try a
// non-blocking read and fall back to waiting on the update event.
func (s *Source) NextFrame(ctx context.Context) (*telemetrysource.Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		buf := s.att.Base()
		h, err := parseHeader(buf)
		if err != nil {
			return nil, err
		}

		if !h.isConnected() {
			if s.lastConnected.IsZero() {
				s.lastConnected = time.Now()
			}
			if time.Since(s.lastConnected) > disconnectedExpiry {
				return nil, nil
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pollTimeout):
			}
			continue
		}
		s.lastConnected = time.Time{}

		if frame, ok := s.latestConsistentFrame(); ok {
			s.mu.Lock()
			isNew := frame.Tick != s.lastTick
			previous := s.lastTick
			regressed := isNew && previous != math.MaxUint32 && !cellcode.TickAfter(frame.Tick, previous)
			if isNew {
				s.lastTick = frame.Tick
			}
			s.mu.Unlock()
			if regressed {
				s.logger.Warn("live: tick count went backwards; accepting frame",
					slog.Uint64("previous", uint64(previous)), slog.Uint64("tick", uint64(frame.Tick)))
			}
			if isNew {
				return frame, nil
			}
		}

		s.att.WaitUpdate(pollTimeout)
	}
}

// SessionBlob returns the raw session metadata text when version differs
// from the last observed metadata version.
func (s *Source) SessionBlob(ctx context.Context, version int) ([]byte, error) {
	buf := s.att.Base()
	h, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	if version == int(h.SessionInfoUpdate) {
		return nil, nil
	}

	start := int(h.SessionInfoOffset)
	length := int(h.SessionInfoLen)
	if start < 0 || length < 0 || start+length > len(buf) {
		e := pitwallerr.New(pitwallerr.MemoryAccess, "session info range out of bounds", nil)
		e.Offset = int64(start)
		return nil, e
	}
	raw := buf[start : start+length]
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

// Close releases the underlying OS attachment.
func (s *Source) Close() error {
	return s.att.Close()
}

// mapCellType translates the simulator's on-wire variable type tag into a
// cellcode.CellType. Tags outside 0..5 are unrecognized.
func mapCellType(tag int32) (cellcode.CellType, bool) {
	switch tag {
	case 0:
		return cellcode.Char, true
	case 1:
		return cellcode.Bool, true
	case 2:
		return cellcode.Int32, true
	case 3:
		return cellcode.BitField, true
	case 4:
		return cellcode.Float32, true
	case 5:
		return cellcode.Float64, true
	default:
		return 0, false
	}
}

package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/apexdata/pitwall/internal/cellcode"
	"github.com/apexdata/pitwall/internal/pitwallerr"
	"github.com/apexdata/pitwall/internal/schema"
)

const (
	mainHeaderSize = 144
	subHeaderSize  = 32
	varHeaderSize  = 144

	varNameSize = 32
	varDescSize = 64
	varUnitSize = 32

	supportedVersion = 2
	maxNumVars       = 10_000
	maxFrameSize     = 100_000_000
)

// mainHeader mirrors the simulator's 144-byte irsdk_header as recorded at
// the start of an archive file.
type mainHeader struct {
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
}

// subHeader mirrors the 32-byte archive-only sub-header carrying session
// timing and the recorded frame count.
type subHeader struct {
	StartDate   int64
	StartTime   float64
	EndTime     float64
	LapCount    int32
	RecordCount int32
}

func parseMainHeader(buf []byte) (mainHeader, error) {
	if len(buf) < mainHeaderSize {
		e := pitwallerr.New(pitwallerr.Parse, "archive file too short for main header", nil)
		e.Context = "main header"
		return mainHeader{}, e
	}
	h := mainHeader{
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
	if err := h.validate(); err != nil {
		return mainHeader{}, err
	}
	return h, nil
}

func (h mainHeader) validate() error {
	if h.Version != supportedVersion {
		e := pitwallerr.New(pitwallerr.Version, fmt.Sprintf("unsupported archive version %d", h.Version), nil)
		e.Expected = fmt.Sprintf("%d", supportedVersion)
		e.Found = fmt.Sprintf("%d", h.Version)
		return e
	}
	if h.NumVars < 0 || h.NumVars > maxNumVars {
		e := pitwallerr.New(pitwallerr.Parse, fmt.Sprintf("num_vars %d out of range [0,%d]", h.NumVars, maxNumVars), nil)
		e.Context = "main header"
		return e
	}
	if h.BufLen < 0 || h.BufLen > maxFrameSize {
		e := pitwallerr.New(pitwallerr.Parse, fmt.Sprintf("frame_size %d out of range [0,%d]", h.BufLen, maxFrameSize), nil)
		e.Context = "main header"
		return e
	}
	if h.SessionInfoOffset < 0 || h.SessionInfoLen < 0 || h.VarHeaderOffset < 0 {
		e := pitwallerr.New(pitwallerr.Parse, "offset/length fields must be non-negative", nil)
		e.Context = "main header"
		return e
	}
	return nil
}

func parseSubHeader(buf []byte) (subHeader, error) {
	if len(buf) < subHeaderSize {
		e := pitwallerr.New(pitwallerr.Parse, "archive file too short for sub-header", nil)
		e.Context = "sub header"
		return subHeader{}, e
	}
	return subHeader{
		StartDate:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		StartTime:   math.Float64frombits(binary.LittleEndian.Uint64(buf[8:16])),
		EndTime:     math.Float64frombits(binary.LittleEndian.Uint64(buf[16:24])),
		LapCount:    int32(binary.LittleEndian.Uint32(buf[24:28])),
		RecordCount: int32(binary.LittleEndian.Uint32(buf[28:32])),
	}, nil
}

// extractVariables reads h.NumVars fixed 144-byte variable headers starting
// at h.VarHeaderOffset and returns the resulting schema. Variables with an
// empty name, negative offset, or non-positive count are silently skipped,
// as are unrecognized type tags (logged at Debug).
func extractVariables(logger *slog.Logger, buf []byte, h mainHeader) (*schema.Schema, error) {
	vars := make(map[string]schema.VarInfo, h.NumVars)

	start := int64(h.VarHeaderOffset)
	for i := int32(0); i < h.NumVars; i++ {
		off := start + int64(i)*varHeaderSize
		if off < 0 || off+varHeaderSize > int64(len(buf)) {
			e := pitwallerr.New(pitwallerr.Parse, fmt.Sprintf("variable header %d out of bounds", i), nil)
			e.Context = "variable header"
			return nil, e
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
			logger.Debug("skipping variable with unknown type tag",
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

// mapCellType translates the simulator's on-disk variable type tag into a
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

func nulTerminated(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Package schema describes a telemetry frame's layout: a map of variable
// name to descriptor plus the frame's total byte length. A Schema is
// constructed once per source lifetime and shared by reference thereafter.
package schema

import (
	"errors"
	"fmt"

	"github.com/apexdata/pitwall/internal/cellcode"
	"github.com/apexdata/pitwall/internal/pitwallerr"
)

// VarInfo describes a single telemetry variable: its cell type, byte
// offset within a frame buffer, element count, and descriptive metadata.
// VarInfo is immutable once a Schema has been constructed.
type VarInfo struct {
	Name string
	Type cellcode.CellType
	// Offset is the byte offset of the variable within a frame buffer.
	Offset int
	// Count is the element count; Count > 1 means the variable is an
	// array. Count is always >= 1.
	Count int
	// CountIsTime is an advisory flag set by sources whose Count encodes
	// an elapsed-time dimension rather than a fixed array length.
	CountIsTime bool
	Unit        string
	Description string
}

// Schema is an immutable mapping from variable name to VarInfo, plus the
// total byte length of one frame. Every VarInfo in the map satisfies
// Offset + Size(Type)*Count <= FrameSize.
type Schema struct {
	vars      map[string]VarInfo
	frameSize int
}

// New validates vars against frameSize and returns the resulting Schema.
// Every entry's map key must equal its VarInfo.Name, Count must be >= 1,
// and the entry's byte range must fit within frameSize. Every violation
// found is accumulated and returned together as a single
// pitwallerr.Error of Kind SchemaValidation wrapping the joined causes,
// rather than stopping at the first one.
func New(vars map[string]VarInfo, frameSize int) (*Schema, error) {
	var errs []error

	if frameSize < 0 {
		errs = append(errs, errors.New("frame_size must be non-negative"))
	}

	out := make(map[string]VarInfo, len(vars))
	for key, v := range vars {
		if v.Name != key {
			errs = append(errs, fmt.Errorf("map key %q does not equal VarInfo.Name %q", key, v.Name))
			continue
		}
		if v.Count < 1 {
			errs = append(errs, fmt.Errorf("variable %q has count %d, must be >= 1", v.Name, v.Count))
			continue
		}
		size := cellcode.Size(v.Type)
		end := v.Offset + size*v.Count
		if v.Offset < 0 || end > frameSize {
			errs = append(errs, fmt.Errorf("variable %q range [%d,%d) exceeds frame size %d", v.Name, v.Offset, end, frameSize))
			continue
		}
		out[key] = v
	}

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		e := pitwallerr.New(pitwallerr.SchemaValidation, "schema failed validation", joined)
		e.Details = joined.Error()
		return nil, e
	}

	return &Schema{vars: out, frameSize: frameSize}, nil
}

// Lookup returns the VarInfo for name and whether it was found. Lookup is
// O(1): a single map access, no iteration.
func (s *Schema) Lookup(name string) (VarInfo, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// FrameSize returns the total byte length of one frame under this schema.
func (s *Schema) FrameSize() int {
	return s.frameSize
}

// Names returns every variable name in the schema, in no particular order.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.vars))
	for n := range s.vars {
		names = append(names, n)
	}
	return names
}

// Len returns the number of variables in the schema.
func (s *Schema) Len() int {
	return len(s.vars)
}

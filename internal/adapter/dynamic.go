package adapter

import (
	"github.com/apexdata/pitwall/internal/pitwallerr"
	"github.com/apexdata/pitwall/internal/schema"
	"github.com/apexdata/pitwall/internal/telemetrysource"
)

// DynamicFrame is the by-name fallback for exploratory callers who don't
// want to declare a destination struct up front. Every Get performs a
// schema lookup, unlike Apply's precomputed field indices, so DynamicFrame
// is not intended for a tight per-frame hot path.
type DynamicFrame struct {
	schema *schema.Schema
	frame  *telemetrysource.Frame
}

// NewDynamicFrame wraps frame for by-name field access against s.
func NewDynamicFrame(s *schema.Schema, frame *telemetrysource.Frame) *DynamicFrame {
	return &DynamicFrame{schema: s, frame: frame}
}

// Get decodes and returns the named variable's current value.
func (d *DynamicFrame) Get(name string) (any, error) {
	v, ok := d.schema.Lookup(name)
	if !ok {
		return nil, pitwallerr.FieldNotFound(name, d.schema.Names())
	}
	return decodeCell(d.frame.Buf, v)
}

// Names returns every variable name available on the underlying schema.
func (d *DynamicFrame) Names() []string {
	return d.schema.Names()
}

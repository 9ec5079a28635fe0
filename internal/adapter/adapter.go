// Package adapter projects a telemetry frame's raw cells onto a caller's
// Go struct, validating field availability once at plan time so the hot
// path (Apply) never performs a name lookup.
package adapter

import (
	"reflect"

	"github.com/apexdata/pitwall/internal/cellcode"
	"github.com/apexdata/pitwall/internal/pitwallerr"
	"github.com/apexdata/pitwall/internal/schema"
	"github.com/apexdata/pitwall/internal/telemetrysource"
)

// FieldOpKind tags how a single destination field is populated from a
// frame.
type FieldOpKind int

const (
	// Required binds a struct field to a schema variable; Validate fails
	// the whole plan if the variable is absent.
	Required FieldOpKind = iota
	// Optional binds a struct field to a schema variable when present,
	// leaving the field at its zero value otherwise.
	Optional
	// WithDefault binds a struct field to a schema variable when present,
	// falling back to Default when absent.
	WithDefault
	// Calculated derives a value from Expression rather than a single
	// schema variable. Expression evaluation is not implemented; Apply
	// leaves the field at its zero value and records nothing else.
	Calculated
	// Skipped marks a struct field the plan deliberately leaves untouched.
	Skipped
)

// FieldOp is one entry of a Plan: how to populate one destination field.
type FieldOp struct {
	Kind FieldOpKind
	// Name is FieldSpec.Name: the schema variable name this op reads from
	// (Required, Optional, WithDefault). Calculated/Skipped ops carry it
	// without looking it up.
	Name string
	// Var is the resolved schema descriptor, nil for Calculated/Skipped
	// or an absent Optional field.
	Var *schema.VarInfo
	// Default is used by WithDefault when Var is nil.
	Default any
	// Expression is the raw, unevaluated source text for Calculated.
	Expression string
	// StructField is the index of the destination struct field this op
	// feeds, precomputed at Validate time so Apply never searches by
	// name.
	StructField int
}

// FieldSpec is the caller's declared intent for one destination field,
// before it has been checked against a schema.
type FieldSpec struct {
	Kind       FieldOpKind
	Name       string
	Default    any
	Expression string
}

// Plan is the validated, schema-bound result of matching a destination
// struct's fields against a Source's schema. A Plan is immutable and safe
// for concurrent use by any number of Apply calls.
type Plan struct {
	destType reflect.Type
	ops      []FieldOp
}

// Validate binds fields, keyed by destination struct field name, against
// s. Every FieldSpec.Kind == Required whose Name is absent from s fails
// validation with a pitwallerr.FieldMissing error carrying name-prefix
// suggestions. dest must be a non-nil pointer to a struct; each map key is
// matched case-sensitively against its field names, and FieldSpec.Name is
// the schema variable looked up for Required/Optional/WithDefault (it is
// not looked up for Calculated/Skipped).
func Validate(s *schema.Schema, dest any, fields map[string]FieldSpec) (*Plan, error) {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil, pitwallerr.New(pitwallerr.Parse, "adapter destination must be a non-nil pointer to a struct", nil)
	}
	destType := rv.Elem().Type()

	plan := &Plan{destType: destType}

	for fieldName, spec := range fields {
		sf, ok := destType.FieldByName(fieldName)
		if !ok {
			e := pitwallerr.New(pitwallerr.Parse, "adapter destination has no field "+fieldName, nil)
			e.Name = fieldName
			return nil, e
		}

		op := FieldOp{
			Kind:        spec.Kind,
			Name:        spec.Name,
			Default:     spec.Default,
			Expression:  spec.Expression,
			StructField: sf.Index[0],
		}

		switch spec.Kind {
		case Required, Optional, WithDefault:
			v, found := s.Lookup(spec.Name)
			if found {
				op.Var = &v
			} else if spec.Kind == Required {
				return nil, pitwallerr.FieldNotFound(spec.Name, s.Names())
			}
			// Optional and WithDefault silently leave op.Var nil when
			// absent; Apply falls back to the zero value or Default.
		case Calculated, Skipped:
			// No schema binding: the destination field was resolved from
			// the map key above.
		}

		plan.ops = append(plan.ops, op)
	}

	return plan, nil
}

// Apply populates a new T (T must be the struct type Plan was validated
// against) from frame's cells according to plan, using the precomputed
// field indices and variable descriptors with no further name lookups.
func Apply[T any](frame *telemetrysource.Frame, plan *Plan) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	if rv.Type() != plan.destType {
		return out, pitwallerr.New(pitwallerr.Parse, "adapter Apply type does not match the struct Validate was called with", nil)
	}

	for _, op := range plan.ops {
		field := rv.Field(op.StructField)

		switch op.Kind {
		case Required, Optional, WithDefault:
			if op.Var == nil {
				if op.Kind == WithDefault && op.Default != nil {
					setAny(field, op.Default)
				}
				continue
			}
			val, err := decodeCell(frame.Buf, *op.Var)
			if err != nil {
				if op.Kind == Required {
					return out, err
				}
				continue
			}
			setAny(field, val)
		case Calculated:
			// Expression evaluation is unimplemented; leave the field at
			// its zero value.
		case Skipped:
			// Deliberately left untouched.
		}
	}

	return out, nil
}

// setAny assigns val into field when the dynamic type is assignable,
// converting between numeric kinds when the destination field's static
// type differs from the decoded wire type (e.g. a float32 cell into a
// float64 struct field).
func setAny(field reflect.Value, val any) {
	if !field.CanSet() {
		return
	}
	rval := reflect.ValueOf(val)
	if rval.Type().AssignableTo(field.Type()) {
		field.Set(rval)
		return
	}
	if rval.Type().ConvertibleTo(field.Type()) {
		field.Set(rval.Convert(field.Type()))
	}
}

// decodeCell dispatches to the matching cellcode.Decode* for v's type,
// returning a scalar for Count == 1 and a slice for Count > 1.
func decodeCell(buf []byte, v schema.VarInfo) (any, error) {
	if v.Count > 1 {
		return decodeArray(buf, v)
	}
	switch v.Type {
	case cellcode.Char:
		return cellcode.DecodeChar(buf, v.Type, v.Offset)
	case cellcode.Bool:
		return cellcode.DecodeBool(buf, v.Type, v.Offset)
	case cellcode.Int8:
		return cellcode.DecodeInt8(buf, v.Type, v.Offset)
	case cellcode.UInt8:
		return cellcode.DecodeUInt8(buf, v.Type, v.Offset)
	case cellcode.Int16:
		return cellcode.DecodeInt16(buf, v.Type, v.Offset)
	case cellcode.UInt16:
		return cellcode.DecodeUInt16(buf, v.Type, v.Offset)
	case cellcode.Int32:
		return cellcode.DecodeInt32(buf, v.Type, v.Offset)
	case cellcode.UInt32:
		return cellcode.DecodeUInt32(buf, v.Type, v.Offset)
	case cellcode.Float32:
		return cellcode.DecodeFloat32(buf, v.Type, v.Offset)
	case cellcode.Float64:
		return cellcode.DecodeFloat64(buf, v.Type, v.Offset)
	case cellcode.BitField:
		return cellcode.DecodeBitField(buf, v.Type, v.Offset)
	default:
		e := pitwallerr.New(pitwallerr.TypeMismatch, "unhandled cell type", nil)
		e.Name = v.Name
		return nil, e
	}
}

func decodeArray(buf []byte, v schema.VarInfo) (any, error) {
	switch v.Type {
	case cellcode.Float32:
		return cellcode.DecodeFloat32Array(buf, v.Type, v.Offset, v.Count)
	case cellcode.Int32:
		return cellcode.DecodeInt32Array(buf, v.Type, v.Offset, v.Count)
	default:
		size := cellcode.Size(v.Type)
		out := make([]any, v.Count)
		for i := 0; i < v.Count; i++ {
			cell, err := decodeCell(buf, schema.VarInfo{
				Name: v.Name, Type: v.Type, Offset: v.Offset + i*size, Count: 1,
			})
			if err != nil {
				return nil, err
			}
			out[i] = cell
		}
		return out, nil
	}
}

// FetchOrDefault returns the value decoded for name in s against frame,
// falling back to def when the variable is absent or decoding fails, or
// when the decoded value's dynamic type is not exactly T (no numeric
// conversion is attempted).
func FetchOrDefault[T any](s *schema.Schema, frame *telemetrysource.Frame, name string, def T) T {
	v, ok := s.Lookup(name)
	if !ok {
		return def
	}
	val, err := decodeCell(frame.Buf, v)
	if err != nil {
		return def
	}
	typed, ok := val.(T)
	if !ok {
		return def
	}
	return typed
}

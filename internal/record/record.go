// Package record implements the bijective row/key serialization format:
// a null bitmap, a fixed-length section in declared column order, and a
// length-prefixed variable-length section in declared column order.
//
// Grounded on the teacher's row_codec.go binary-encoding discipline
// (little-endian fixed fields, length-prefixed variable fields); the
// teacher's per-field type tag scheme is replaced with the schema-typed
// layout spec.md requires (column types come from the table definition,
// not from a tag embedded per value).
package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"relstore/internal/schema"
	"relstore/internal/storeerr"
)

func bitmapSize(n int) int {
	return (n + 7) / 8
}

func bitSet(bitmap []byte, i int) bool {
	return bitmap[i/8]&(1<<uint(i%8)) != 0
}

func setBit(bitmap []byte, i int) {
	bitmap[i/8] |= 1 << uint(i%8)
}

// Serialize encodes row against columns into the on-disk record format.
// len(row) must equal len(columns).
func Serialize(columns []schema.Column, row []schema.DataValue) ([]byte, error) {
	if len(row) != len(columns) {
		return nil, fmt.Errorf("record: Serialize: %w: %d columns, %d values", storeerr.ErrInvalidOperation, len(columns), len(row))
	}

	bitmap := make([]byte, bitmapSize(len(columns)))
	var fixed []byte
	var variable []byte

	for i, col := range columns {
		v := row[i]
		if v.IsNull {
			setBit(bitmap, i)
			continue
		}
		switch {
		case isFixed(col.Type):
			b, err := encodeFixed(col.Type, v)
			if err != nil {
				return nil, err
			}
			fixed = append(fixed, b...)
		default:
			b, err := encodeVariable(v)
			if err != nil {
				return nil, err
			}
			variable = append(variable, b...)
		}
	}

	out := make([]byte, 0, len(bitmap)+len(fixed)+len(variable))
	out = append(out, bitmap...)
	out = append(out, fixed...)
	out = append(out, variable...)
	return out, nil
}

func isFixed(t schema.ColumnType) bool {
	_, fixed := t.FixedSize()
	return fixed
}

func encodeFixed(t schema.ColumnType, v schema.DataValue) ([]byte, error) {
	switch t {
	case schema.Boolean:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case schema.Int:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v.Int32))
		return b, nil
	case schema.BigInt:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.Int64))
		return b, nil
	case schema.Float:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Float64))
		return b, nil
	case schema.DateTime:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.Time.UnixNano()))
		return b, nil
	case schema.Decimal:
		db := v.Decimal.Bytes()
		return db[:], nil
	default:
		return nil, fmt.Errorf("record: encodeFixed: unknown fixed type %v", t)
	}
}

func encodeVariable(v schema.DataValue) ([]byte, error) {
	out := make([]byte, 4+len(v.Bytes))
	binary.LittleEndian.PutUint32(out, uint32(len(v.Bytes)))
	copy(out[4:], v.Bytes)
	return out, nil
}

// Deserialize decodes bytes against columns into a row. Truncated
// buffers or malformed lengths cause InvalidData.
func Deserialize(columns []schema.Column, buf []byte) ([]schema.DataValue, error) {
	bmSize := bitmapSize(len(columns))
	if len(buf) < bmSize {
		return nil, fmt.Errorf("record: Deserialize: %w: buffer shorter than null bitmap", storeerr.ErrInvalidData)
	}
	bitmap := buf[:bmSize]
	rest := buf[bmSize:]

	row := make([]schema.DataValue, len(columns))

	// fixed-size section, physical order
	for i, col := range columns {
		if !isFixed(col.Type) {
			continue
		}
		if bitSet(bitmap, i) {
			row[i] = schema.NullValue(col.Type)
			continue
		}
		size, _ := col.Type.FixedSize()
		if len(rest) < size {
			return nil, fmt.Errorf("record: Deserialize: %w: truncated fixed column %q", storeerr.ErrInvalidData, col.Name)
		}
		v, err := decodeFixed(col.Type, rest[:size])
		if err != nil {
			return nil, err
		}
		row[i] = v
		rest = rest[size:]
	}

	// variable-size section, physical order
	for i, col := range columns {
		if isFixed(col.Type) {
			continue
		}
		if bitSet(bitmap, i) {
			row[i] = schema.NullValue(col.Type)
			continue
		}
		if len(rest) < 4 {
			return nil, fmt.Errorf("record: Deserialize: %w: truncated length prefix for column %q", storeerr.ErrInvalidData, col.Name)
		}
		n := binary.LittleEndian.Uint32(rest)
		rest = rest[4:]
		if uint64(len(rest)) < uint64(n) {
			return nil, fmt.Errorf("record: Deserialize: %w: truncated variable column %q", storeerr.ErrInvalidData, col.Name)
		}
		payload := make([]byte, n)
		copy(payload, rest[:n])
		row[i] = schema.DataValue{Type: col.Type, Bytes: payload}
		rest = rest[n:]
	}

	return row, nil
}

func decodeFixed(t schema.ColumnType, b []byte) (schema.DataValue, error) {
	switch t {
	case schema.Boolean:
		return schema.DataValue{Type: t, Bool: b[0] != 0}, nil
	case schema.Int:
		return schema.DataValue{Type: t, Int32: int32(binary.LittleEndian.Uint32(b))}, nil
	case schema.BigInt:
		return schema.DataValue{Type: t, Int64: int64(binary.LittleEndian.Uint64(b))}, nil
	case schema.Float:
		return schema.DataValue{Type: t, Float64: math.Float64frombits(binary.LittleEndian.Uint64(b))}, nil
	case schema.DateTime:
		return schema.DataValue{Type: t, Time: time.Unix(0, int64(binary.LittleEndian.Uint64(b))).UTC()}, nil
	case schema.Decimal:
		var arr [schema.DecimalBytes]byte
		copy(arr[:], b)
		return schema.DataValue{Type: t, Decimal: schema.DecimalFromBytes(arr)}, nil
	default:
		return schema.DataValue{}, fmt.Errorf("record: decodeFixed: unknown fixed type %v", t)
	}
}

// DeserializePrimaryKey walks buf against table's full column list and
// emits only the PK columns, in PK-declaration order, as a Key. A PK
// column whose null bit is set is InvalidData (spec: PK columns must be
// non-null at the storage layer).
func DeserializePrimaryKey(table *schema.Table, buf []byte) (schema.Key, error) {
	row, err := Deserialize(table.Columns, buf)
	if err != nil {
		return schema.Key{}, err
	}
	values := make([]schema.DataValue, len(table.PrimaryKey))
	for i, colIdx := range table.PrimaryKey {
		v := row[colIdx]
		if v.IsNull {
			return schema.Key{}, fmt.Errorf("record: DeserializePrimaryKey: %w: column %q is a primary-key column stored as null", storeerr.ErrInvalidData, table.Columns[colIdx].Name)
		}
		values[i] = v
	}
	return schema.Key{Values: values}, nil
}

// KeyOf extracts the Key (PK-column values, in PK-declaration order)
// directly from an in-memory row, without a round trip through bytes.
func KeyOf(table *schema.Table, row []schema.DataValue) (schema.Key, error) {
	values := make([]schema.DataValue, len(table.PrimaryKey))
	for i, colIdx := range table.PrimaryKey {
		v := row[colIdx]
		if v.IsNull {
			return schema.Key{}, fmt.Errorf("record: KeyOf: %w: column %q is a primary-key column with a null value", storeerr.ErrInvalidData, table.Columns[colIdx].Name)
		}
		values[i] = v
	}
	return schema.Key{Values: values}, nil
}

// SerializeKey encodes a Key using only the PK columns, in PK-declaration
// order — used for internal-node entry bytes (spec: "the serialized key
// bytes using the PK columns only").
func SerializeKey(table *schema.Table, key schema.Key) ([]byte, error) {
	cols := make([]schema.Column, len(table.PrimaryKey))
	for i, colIdx := range table.PrimaryKey {
		cols[i] = table.Columns[colIdx]
	}
	return Serialize(cols, key.Values)
}

// DeserializeKey decodes bytes produced by SerializeKey back into a Key.
func DeserializeKey(table *schema.Table, buf []byte) (schema.Key, error) {
	cols := make([]schema.Column, len(table.PrimaryKey))
	for i, colIdx := range table.PrimaryKey {
		cols[i] = table.Columns[colIdx]
	}
	values, err := Deserialize(cols, buf)
	if err != nil {
		return schema.Key{}, err
	}
	for _, v := range values {
		if v.IsNull {
			return schema.Key{}, fmt.Errorf("record: DeserializeKey: %w: null primary-key component", storeerr.ErrInvalidData)
		}
	}
	return schema.Key{Values: values}, nil
}

// Package schema defines column types, table definitions, and the
// DataValue/Key types used to compare and order B+Tree entries.
//
// The fixed-size type set and the Decimal wire format are grounded on
// the teacher's internal/storage/decimal.go, which represents SQL
// DECIMAL columns as *big.Rat for arithmetic while needing a stable
// wire form for storage; relstore's Decimal keeps both, a fixed
// 16-byte on-disk encoding convertible to big.Rat for comparison and
// display.
package schema

import (
	"fmt"
	"math/big"
	"time"
)

// ColumnType enumerates the fixed- and variable-size column types.
type ColumnType int

const (
	Boolean ColumnType = iota
	Int
	BigInt
	Float
	DateTime
	Decimal
	Varchar
	Blob
)

func (t ColumnType) String() string {
	switch t {
	case Boolean:
		return "Boolean"
	case Int:
		return "Int"
	case BigInt:
		return "BigInt"
	case Float:
		return "Float"
	case DateTime:
		return "DateTime"
	case Decimal:
		return "Decimal"
	case Varchar:
		return "Varchar"
	case Blob:
		return "Blob"
	default:
		return "Unknown"
	}
}

// FixedSize returns the type's on-disk width for fixed-size types, and
// (0, false) for variable-size types.
func (t ColumnType) FixedSize() (int, bool) {
	switch t {
	case Boolean:
		return 1, true
	case Int:
		return 4, true
	case BigInt:
		return 8, true
	case Float:
		return 8, true
	case DateTime:
		return 8, true
	case Decimal:
		return 16, true
	default:
		return 0, false
	}
}

// Column describes one column of a table.
type Column struct {
	Name string
	Type ColumnType
}

// Table describes a table's schema: its columns in physical declaration
// order, and the ordinal indices (into Columns) that make up the
// primary key, in PK-declaration order. PK columns need not be
// contiguous or in physical order.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []int
}

// DecimalScale is the number of fractional digits Decimal's fixed-point
// wire format preserves.
const DecimalScale = 9

// DecimalBytes is the on-disk width of a Decimal value: a 16-byte
// signed fixed-point integer (scaled by 10^DecimalScale), stored as a
// two's-complement big-endian 128-bit integer.
const DecimalBytes = 16

// DecimalValue is the 16-byte fixed-point on-disk form of a DECIMAL(16)
// column. It converts to/from big.Rat for arithmetic and display,
// mirroring the teacher's DecimalFromAny/DecimalToString split between
// wire format and working representation.
type DecimalValue struct {
	Unscaled big.Int // value * 10^DecimalScale
}

// DecimalFromRat converts r to its fixed-point on-disk representation.
func DecimalFromRat(r *big.Rat) DecimalValue {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalScale), nil)
	num := new(big.Int).Mul(r.Num(), scale)
	unscaled := new(big.Int).Quo(num, r.Denom())
	return DecimalValue{Unscaled: *unscaled}
}

// Rat converts d back to a big.Rat.
func (d DecimalValue) Rat() *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalScale), nil)
	return new(big.Rat).SetFrac(&d.Unscaled, scale)
}

// String renders d as a decimal string via its big.Rat form.
func (d DecimalValue) String() string {
	return d.Rat().RatString()
}

// Bytes returns d's 16-byte two's-complement big-endian encoding.
func (d DecimalValue) Bytes() [DecimalBytes]byte {
	var out [DecimalBytes]byte
	b := d.Unscaled.Bytes()
	neg := d.Unscaled.Sign() < 0
	if len(b) > DecimalBytes {
		b = b[len(b)-DecimalBytes:]
	}
	copy(out[DecimalBytes-len(b):], b)
	if neg {
		// two's complement of the unsigned magnitude representation
		for i := range out {
			out[i] = ^out[i]
		}
		carry := byte(1)
		for i := DecimalBytes - 1; i >= 0; i-- {
			sum := int(out[i]) + int(carry)
			out[i] = byte(sum)
			carry = byte(sum >> 8)
		}
	}
	return out
}

// DecimalFromBytes decodes a 16-byte two's-complement big-endian value.
func DecimalFromBytes(b [DecimalBytes]byte) DecimalValue {
	neg := b[0]&0x80 != 0
	work := b
	if neg {
		for i := range work {
			work[i] = ^work[i]
		}
		carry := byte(1)
		for i := DecimalBytes - 1; i >= 0; i-- {
			sum := int(work[i]) + int(carry)
			work[i] = byte(sum)
			carry = byte(sum >> 8)
		}
	}
	mag := new(big.Int).SetBytes(work[:])
	if neg {
		mag.Neg(mag)
	}
	return DecimalValue{Unscaled: *mag}
}

// DataValue is a single typed column value, either present or null.
type DataValue struct {
	Type     ColumnType
	IsNull   bool
	Bool     bool
	Int32    int32
	Int64    int64
	Float64  float64
	Time     time.Time
	Decimal  DecimalValue
	Bytes    []byte // Varchar (UTF-8) or Blob payload
}

// NullValue returns a null DataValue of the given type.
func NullValue(t ColumnType) DataValue {
	return DataValue{Type: t, IsNull: true}
}

// Compare orders a and b the way Key components are ordered: null
// before non-null, then by the underlying value. a and b must share a
// type.
func (a DataValue) Compare(b DataValue) int {
	if a.Type != b.Type {
		panic(fmt.Sprintf("schema: Compare: type mismatch %v vs %v", a.Type, b.Type))
	}
	if a.IsNull && b.IsNull {
		return 0
	}
	if a.IsNull {
		return -1
	}
	if b.IsNull {
		return 1
	}
	switch a.Type {
	case Boolean:
		return boolCompare(a.Bool, b.Bool)
	case Int:
		return intCompare(int64(a.Int32), int64(b.Int32))
	case BigInt, DateTime:
		ai, bi := a.Int64, b.Int64
		if a.Type == DateTime {
			ai, bi = a.Time.UnixNano(), b.Time.UnixNano()
		}
		return intCompare(ai, bi)
	case Float:
		return floatCompare(a.Float64, b.Float64)
	case Decimal:
		return a.Decimal.Unscaled.Cmp(&b.Decimal.Unscaled)
	case Varchar, Blob:
		return bytesCompare(a.Bytes, b.Bytes)
	default:
		panic(fmt.Sprintf("schema: Compare: unknown type %v", a.Type))
	}
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func intCompare(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func floatCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func bytesCompare(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return intCompare(int64(len(a)), int64(len(b)))
}

// Key is the ordered tuple of primary-key column values used to order
// and address B+Tree entries.
type Key struct {
	Values []DataValue
}

// Compare orders keys lexicographically, component by component.
func (k Key) Compare(other Key) int {
	n := len(k.Values)
	if len(other.Values) < n {
		n = len(other.Values)
	}
	for i := 0; i < n; i++ {
		if c := k.Values[i].Compare(other.Values[i]); c != 0 {
			return c
		}
	}
	return intCompare(int64(len(k.Values)), int64(len(other.Values)))
}

// Less reports whether k sorts before other.
func (k Key) Less(other Key) bool { return k.Compare(other) < 0 }

// Equal reports whether k and other compare equal.
func (k Key) Equal(other Key) bool { return k.Compare(other) == 0 }

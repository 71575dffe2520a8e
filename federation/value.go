package federation

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

type bound int8

const (
	finite bound = iota
	negInf
	posInf
)

// Value 分布键上的一个有类型取值，也可以是 -∞ / +∞（首成员下界、末成员上界）
//
// 零值是 int64 类型的 0。
type Value struct {
	typ   RangeType
	bound bound
	i     int64
	g     uuid.UUID
	b     []byte
}

// Int 构造整数值，typ 为 RangeInt32 时不检查溢出
func Int(typ RangeType, v int64) Value {
	return Value{typ: typ, i: v}
}

// GUID 构造 guid 值
func GUID(g uuid.UUID) Value {
	return Value{typ: RangeGUID, g: g}
}

// Bytes 构造字节串值
func Bytes(b []byte) Value {
	return Value{typ: RangeBytes, b: append([]byte(nil), b...)}
}

// NegInfinity 返回 typ 的 -∞
func NegInfinity(typ RangeType) Value {
	return Value{typ: typ, bound: negInf}
}

// Infinity 返回 typ 的 +∞
func Infinity(typ RangeType) Value {
	return Value{typ: typ, bound: posInf}
}

// MinValue 返回 typ 可表示的最小有限值，用作首成员的分片定位值
func MinValue(typ RangeType) Value {
	switch typ {
	case RangeInt32:
		return Int(typ, math.MinInt32)
	case RangeGUID:
		return GUID(uuid.Nil)
	case RangeBytes:
		return Bytes(nil)
	default:
		return Int(RangeInt64, math.MinInt64)
	}
}

func (v Value) Type() RangeType     { return v.typ }
func (v Value) IsNegInfinity() bool { return v.bound == negInf }
func (v Value) IsPosInfinity() bool { return v.bound == posInf }
func (v Value) IsFinite() bool      { return v.bound == finite }
func (v Value) Int() int64          { return v.i }
func (v Value) GUID() uuid.UUID     { return v.g }
func (v Value) Bytes() []byte       { return v.b }

// Compare 比较同类型的两个值，返回 -1/0/1
//
// guid 按 uniqueidentifier 的存储顺序比较：先比较字节 10-15，再 8-9、6-7、4-5、0-3。
func (v Value) Compare(o Value) int {
	if v.bound != finite || o.bound != finite {
		return cmpBound(v.bound, o.bound)
	}
	switch v.typ {
	case RangeGUID:
		return compareGUID(v.g, o.g)
	case RangeBytes:
		return bytes.Compare(v.b, o.b)
	default:
		switch {
		case v.i < o.i:
			return -1
		case v.i > o.i:
			return 1
		}
		return 0
	}
}

func cmpBound(a, b bound) int {
	rank := func(x bound) int {
		switch x {
		case negInf:
			return -1
		case posInf:
			return 1
		}
		return 0
	}
	ra, rb := rank(a), rank(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	}
	return 0
}

var guidOrder = [][2]int{{10, 16}, {8, 10}, {6, 8}, {4, 6}, {0, 4}}

func compareGUID(a, b uuid.UUID) int {
	for _, seg := range guidOrder {
		if c := bytes.Compare(a[seg[0]:seg[1]], b[seg[0]:seg[1]]); c != 0 {
			return c
		}
	}
	return 0
}

// SQLValue 返回可直接作为驱动参数的值，无穷值返回 nil
func (v Value) SQLValue() any {
	if v.bound != finite {
		return nil
	}
	switch v.typ {
	case RangeGUID:
		return v.g.String()
	case RangeBytes:
		return v.b
	default:
		return v.i
	}
}

func (v Value) String() string {
	switch v.bound {
	case negInf:
		return "-inf"
	case posInf:
		return "+inf"
	}
	switch v.typ {
	case RangeGUID:
		return v.g.String()
	case RangeBytes:
		return "0x" + hex.EncodeToString(v.b)
	default:
		return strconv.FormatInt(v.i, 10)
	}
}

// Coerce 将调用方或驱动返回的原始值转换为 typ 类型的 Value
//
// 支持整数族、数字字符串、uuid.UUID、guid 字符串、[]byte 以及 Value 本身。
func Coerce(typ RangeType, raw any) (Value, error) {
	if v, ok := raw.(Value); ok {
		if v.typ != typ {
			return Value{}, fmt.Errorf("%w: %s value for %s range", ErrInvalidValue, v.typ, typ)
		}
		return v, nil
	}
	if raw == nil {
		return Value{}, fmt.Errorf("%w: nil", ErrInvalidValue)
	}

	switch typ {
	case RangeGUID:
		return coerceGUID(raw)
	case RangeBytes:
		return coerceBytes(raw)
	default:
		i, err := coerceInt(raw)
		if err != nil {
			return Value{}, err
		}
		if typ == RangeInt32 && (i < math.MinInt32 || i > math.MaxInt32) {
			return Value{}, fmt.Errorf("%w: %d overflows int32", ErrInvalidValue, i)
		}
		return Int(typ, i), nil
	}
}

func coerceInt(raw any) (int64, error) {
	switch x := raw.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrInvalidValue, x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d overflows int64", ErrInvalidValue, x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: %v is not integral", ErrInvalidValue, x)
		}
		return int64(x), nil
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, x)
		}
		return i, nil
	case []byte:
		return coerceInt(string(x))
	default:
		return 0, fmt.Errorf("%w: %T for integer range", ErrInvalidValue, raw)
	}
}

func coerceGUID(raw any) (Value, error) {
	switch x := raw.(type) {
	case uuid.UUID:
		return GUID(x), nil
	case [16]byte:
		return GUID(uuid.UUID(x)), nil
	case string:
		g, err := uuid.Parse(x)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, x)
		}
		return GUID(g), nil
	case []byte:
		if len(x) == 16 {
			g, _ := uuid.FromBytes(x)
			return GUID(g), nil
		}
		return coerceGUID(string(x))
	default:
		return Value{}, fmt.Errorf("%w: %T for guid range", ErrInvalidValue, raw)
	}
}

func coerceBytes(raw any) (Value, error) {
	switch x := raw.(type) {
	case []byte:
		return Bytes(x), nil
	case string:
		return Bytes([]byte(x)), nil
	default:
		return Value{}, fmt.Errorf("%w: %T for byte range", ErrInvalidValue, raw)
	}
}

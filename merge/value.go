package merge

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Compare 比较两个驱动返回的值：nil 最小，数字按数值比较，
// 字符串、[]byte、time.Time、bool 各自按自然顺序，类型不同时按文本比较
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na.compare(nb)
		}
	}

	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case []byte:
		if y, ok := b.([]byte); ok {
			return bytes.Compare(x, y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// number 整数保持精确，任一操作数为浮点时退化为 float64
type number struct {
	i       int64
	f       float64
	isFloat bool
}

func (n number) float() float64 {
	if n.isFloat {
		return n.f
	}
	return float64(n.i)
}

func (n number) compare(o number) int {
	if !n.isFloat && !o.isFloat {
		switch {
		case n.i < o.i:
			return -1
		case n.i > o.i:
			return 1
		default:
			return 0
		}
	}
	a, b := n.float(), o.float()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (n number) add(o number) number {
	if !n.isFloat && !o.isFloat {
		return number{i: n.i + o.i}
	}
	return number{f: n.float() + o.float(), isFloat: true}
}

func (n number) value() any {
	if n.isFloat {
		return n.f
	}
	return n.i
}

func asNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{i: int64(x)}, true
	case int8:
		return number{i: int64(x)}, true
	case int16:
		return number{i: int64(x)}, true
	case int32:
		return number{i: int64(x)}, true
	case int64:
		return number{i: x}, true
	case uint8:
		return number{i: int64(x)}, true
	case uint16:
		return number{i: int64(x)}, true
	case uint32:
		return number{i: int64(x)}, true
	case uint64:
		if x > math.MaxInt64 {
			return number{f: float64(x), isFloat: true}, true
		}
		return number{i: int64(x)}, true
	case float32:
		return number{f: float64(x), isFloat: true}, true
	case float64:
		return number{f: x, isFloat: true}, true
	default:
		return number{}, false
	}
}

// decimalValue 把定点数文本转为 int64 或 float64，无法解析时原样返回
func decimalValue(v any) any {
	switch v.(type) {
	case []byte, string:
		if n, ok := parseNumber(v); ok {
			return n.value()
		}
	}
	return v
}

// parseNumber 在 asNumber 之外还接受数字文本（MySQL 的 DECIMAL 以 []byte 返回）
func parseNumber(v any) (number, bool) {
	if n, ok := asNumber(v); ok {
		return n, true
	}
	var s string
	switch x := v.(type) {
	case []byte:
		s = string(x)
	case string:
		s = x
	default:
		return number{}, false
	}
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return number{i: i}, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return number{f: f, isFloat: true}, true
	}
	return number{}, false
}

package federation

import (
	"fmt"
	"strings"
)

// RangeType 分布键的范围类型
type RangeType int

const (
	RangeInt64 RangeType = iota
	RangeInt32
	RangeGUID
	RangeBytes
)

// ParseRangeType 同时接受存储类型名 (bigint|int|uniqueidentifier|varbinary)
// 与逻辑名 (int64|int32|guid|byte-range)，不区分大小写
func ParseRangeType(s string) (RangeType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bigint", "int64":
		return RangeInt64, nil
	case "int", "int32":
		return RangeInt32, nil
	case "uniqueidentifier", "guid":
		return RangeGUID, nil
	case "varbinary", "byte-range", "bytes":
		return RangeBytes, nil
	default:
		return RangeInt64, fmt.Errorf("%w: %q", ErrUnknownRangeType, s)
	}
}

func (t RangeType) String() string {
	switch t {
	case RangeInt64:
		return "int64"
	case RangeInt32:
		return "int32"
	case RangeGUID:
		return "guid"
	case RangeBytes:
		return "byte-range"
	default:
		return fmt.Sprintf("range(%d)", int(t))
	}
}

// SQLType 返回存储端声明该类型所用的 SQL 类型名
func (t RangeType) SQLType() string {
	switch t {
	case RangeInt32:
		return "int"
	case RangeGUID:
		return "uniqueidentifier"
	case RangeBytes:
		return "varbinary(900)"
	default:
		return "bigint"
	}
}

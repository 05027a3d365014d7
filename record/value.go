package record

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Text renders a field value as the text that gets tokenized.
func Text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// canonical maps equivalent field values onto one comparable representation:
// every numeric type becomes float64 and byte slices become strings. Values
// decoded from JSON and values supplied in Go therefore compare equal.
func canonical(v any) any {
	switch val := v.(type) {
	case nil, bool, string:
		return val
	case []byte:
		return string(val)
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case float32:
		return float64(val)
	case float64:
		if math.IsNaN(val) {
			return nil
		}
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Equal reports whether two field values are equal after canonicalization.
func Equal(a, b any) bool {
	return canonical(a) == canonical(b)
}

// sqlValue converts a filter value into the representation json_extract
// yields for the same JSON value: booleans become 1/0 integers.
func sqlValue(v any) any {
	switch val := canonical(v).(type) {
	case bool:
		if val {
			return int64(1)
		}
		return int64(0)
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
		return val
	default:
		return val
	}
}

package utils

import (
	"fmt"
	"strconv"
	"time"
)

func AnyToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case time.Duration:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

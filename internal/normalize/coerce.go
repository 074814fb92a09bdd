// internal/normalize/coerce.go
package normalize

import (
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// ------------------------------------------------------------
// producer payload 는 타입이 보장되지 않는다.
// 아래 함수들은 map[string]any 값을 관대하게 해석하고, 실패하면 ok=false 를 돌려준다.
// (goccy/go-json 을 UseNumber 로 디코딩하므로 숫자는 json.Number 로 들어온다.)
// ------------------------------------------------------------

// truthy 는 "값이 비어 있지 않은가" 를 판정한다.
// nil, "", 0, false, 빈 map/slice 는 false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// asString 은 문자열/숫자/불리언을 문자열로 바꾼다.
func asString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// stringOr 는 v 가 없거나 문자열로 볼 수 없으면 def 를 돌려준다.
func stringOr(v any, def string) string {
	if s, ok := asString(v); ok {
		return s
	}
	return def
}

// asFloat 은 숫자 또는 숫자 문자열을 float64 로 바꾼다.
// NaN / Inf 는 JSON 으로 내보낼 수 없으므로 실패로 본다.
func asFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case bool:
		if t {
			f = 1
		}
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// asInt 은 정수로 볼 수 있는 값을 int 로 바꾼다. 소수는 버림.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// asMap 은 JSON object 를 꺼낸다.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	default:
		return nil, false
	}
}

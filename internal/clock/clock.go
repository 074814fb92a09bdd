// internal/clock/clock.go
package clock

import "time"

// ------------------------------------------------------------
// 수신기에서 쓰는 시각 표현을 한곳에 모은다.
//
//   - ISO:    리포트 timestamp / received_at (RFC3339, 나노초)
//   - Suffix: 이미지 파일명 접미사 "YYYYMMDD_HHMMSS" (초 단위)
//
// 정규화와 저장 로직은 Clock 을 주입받으므로 테스트에서 시각을 고정할 수 있다.
// ------------------------------------------------------------

// Clock 은 현재 시각을 돌려준다.
type Clock interface {
	Now() time.Time
}

// System 은 실제 시계.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Func 는 함수를 Clock 으로 쓴다.
type Func func() time.Time

func (f Func) Now() time.Time { return f() }

// Fixed 는 항상 같은 시각을 돌려주는 Clock.
func Fixed(t time.Time) Clock {
	return Func(func() time.Time { return t })
}

const suffixLayout = "20060102_150405"

// Suffix returns the filename timestamp suffix (local time, second precision).
func Suffix(t time.Time) string {
	return t.Format(suffixLayout)
}

// ISO returns t as an RFC 3339 timestamp with nanoseconds.
func ISO(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

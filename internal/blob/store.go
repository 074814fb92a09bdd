// internal/blob/store.go
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"pi-receiver/internal/clock"
)

// ------------------------------------------------------------
// Blob Store
//
// 디코딩된 이미지 바이트를 카테고리별로 저장하고,
// 리포트에 그대로 넣을 수 있는 참조 경로를 돌려준다.
//
// 파일명 규칙:
//
//	<sanitized logicalID>_<YYYYMMDD_HHMMSS>.jpg
//
// 예:
//
//	capture_test-001_20261017_093015.jpg
//	panel_P2_captest-001_20261017_093015.jpg
//
// 참조 경로:
//
//	/api/pi-images/<category>/<filename>
// ------------------------------------------------------------

// Category 는 저장 위치(디렉토리 / key prefix).
type Category string

const (
	CategoryCapture   Category = "captures"    // 원본 프레임
	CategoryPanelCrop Category = "panel_crops" // 패널 단위 crop
)

// Categories 는 허용된 카테고리 목록.
var Categories = []Category{CategoryCapture, CategoryPanelCrop}

// ParseCategory 는 URL 경로 조각을 Category 로 바꾼다.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// RoutePrefix 는 이미지 참조 경로의 고정 prefix.
const RoutePrefix = "/api/pi-images"

// Extension 은 저장되는 모든 이미지의 확장자 (producer 는 JPEG 만 보낸다).
const Extension = ".jpg"

var (
	// ErrNotFound 는 요청한 blob 이 없거나 이름이 규칙에 맞지 않을 때.
	ErrNotFound = errors.New("blob: not found")

	// ErrInvalidName 은 sanitize 후 logicalID 가 비어버린 경우.
	ErrInvalidName = errors.New("blob: empty logical id after sanitize")
)

// Store 는 write-once blob sink.
type Store interface {
	// Save 는 data 를 category 아래 새 파일명으로 저장하고 참조 경로를 돌려준다.
	// ctx 의 deadline 을 넘기면 실패로 처리한다.
	Save(ctx context.Context, category Category, logicalID string, data []byte) (string, error)

	// Open 은 Save 가 만든 파일을 읽는다. 없으면 ErrNotFound.
	Open(ctx context.Context, category Category, name string) (io.ReadCloser, error)
}

// Sanitize 는 문자/숫자, '_' , '-' 외의 문자를 모두 제거한다.
// 경로 구분자와 '.' 이 사라지므로 path traversal 이 불가능하다.
// 이미 sanitize 된 문자열에 다시 적용하면 그대로다.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || r == '_' || r == '-' {
			return r
		}
		return -1
	}, s)
}

// Filename 은 logicalID 와 시각으로 저장 파일명을 만든다.
func Filename(logicalID string, t time.Time) (string, error) {
	safe := Sanitize(logicalID)
	if safe == "" {
		return "", ErrInvalidName
	}
	return safe + "_" + clock.Suffix(t) + Extension, nil
}

// RefPath 는 리포트에 들어가는 참조 경로.
func RefPath(category Category, filename string) string {
	return fmt.Sprintf("%s/%s/%s", RoutePrefix, category, filename)
}

// validName 은 Open 으로 들어온 파일명이 Filename 규칙을 따르는지 확인한다.
func validName(name string) bool {
	base, ok := strings.CutSuffix(name, Extension)
	if !ok || base == "" {
		return false
	}
	return Sanitize(base) == base
}

func validCategory(c Category) bool {
	_, ok := ParseCategory(string(c))
	return ok
}

// internal/normalize/image.go
package normalize

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrEmptyImage 는 디코딩 결과가 0 바이트인 payload.
var ErrEmptyImage = errors.New("image payload is empty")

// DecodeImage 는 base64 이미지 payload 를 바이트로 바꾼다.
//
//   - "data:image/jpeg;base64,...." 처럼 data-URI 헤더가 붙어 있으면 첫 ',' 까지 제거
//   - 줄바꿈/공백은 무시
//   - padding 이 없는 payload 도 허용
func DecodeImage(payload string) ([]byte, error) {
	if i := strings.IndexByte(payload, ','); i >= 0 {
		payload = payload[i+1:]
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil && len(payload)%4 != 0 {
		data, err = base64.RawStdEncoding.DecodeString(payload)
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	return data, nil
}

package pool

import (
	"bytes"
	"sync"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 웹소켓 프레임(JSON envelope)은 broadcast 마다 한 번 인코딩되고,
// replay 시에는 리포트 수만큼 인코딩된다.
// 리포트에는 이미지 참조 경로만 들어가므로 대부분 수 KB 이내.
// 인코딩 버퍼를 재사용해 GC 부담을 줄인다.
// ---------------------------------------------------------------

// BufferPool:
//   - JSON 인코딩 결과를 담는 임시 버퍼
//   - 초기 용량 4KB
var BufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 4*1024))
	},
}

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 맡긴다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// GetBuffer 는 비어 있는 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - 1MB 이하이면 풀에 재사용
//   - 그보다 큰 버퍼는 버린다
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

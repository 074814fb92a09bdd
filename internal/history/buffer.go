// internal/history/buffer.go
package history

import (
	"sync"

	"pi-receiver/internal/model"
)

// DefaultCapacity 는 보관할 최근 리포트 수의 기본값.
const DefaultCapacity = 50

// Buffer
// ------------------------------------------------------------
// 최근 N 개의 리포트를 보관하는 고정 크기 ring buffer.
// 새 observer 에게 replay 할 용도이며 프로세스 재시작 시 비어 있다.
//
//   - Push: O(1). 가득 차 있으면 가장 오래된 항목을 덮어쓴다 (FIFO eviction).
//   - Snapshot: 최신순 복사본. 호출자가 수정해도 buffer 에 영향 없음.
//
// 모든 접근은 mu 로 직렬화되므로 Snapshot 은 Push 이전 또는 이후 상태만 본다.
type Buffer struct {
	mu    sync.RWMutex
	items []model.Report
	head  int // 다음에 쓸 위치
	size  int
}

// New 는 capacity 가 0 이하이면 DefaultCapacity 를 쓴다.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]model.Report, capacity)}
}

// Push 는 r 을 가장 최신 항목으로 넣는다.
func (b *Buffer) Push(r model.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = r
	b.head = (b.head + 1) % len(b.items)
	if b.size < len(b.items) {
		b.size++
	}
}

// Snapshot 은 최신순(index 0 이 가장 최근) 복사본을 돌려준다.
func (b *Buffer) Snapshot() []model.Report {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Report, b.size)
	idx := b.head
	for i := 0; i < b.size; i++ {
		idx--
		if idx < 0 {
			idx = len(b.items) - 1
		}
		out[i] = b.items[idx]
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer) Cap() int {
	return len(b.items)
}

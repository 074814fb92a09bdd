package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 는 수신기 상태를 나타내는 카운터 모음이다.
// 모든 필드는 sync/atomic 으로만 접근한다.
type Metrics struct {
	// ======================
	// 수집(ingest) 지표
	// ======================

	// IngestEventsTotal
	// - producer(웹소켓/REST)로부터 들어온 모든 pi_analysis_result 수.
	IngestEventsTotal int64

	// IngestAcceptedTotal
	// - 정규화에 성공해 history 에 들어가고 broadcast 된 리포트 수.
	IngestAcceptedTotal int64

	// IngestRejectedTotal
	// - capture_id / report 누락으로 거절된 이벤트 수 (ValidationFailure).
	IngestRejectedTotal int64

	// IngestFailedTotal
	// - 예상치 못한 내부 오류(panic 포함)로 실패 처리된 이벤트 수.
	// - 0 이 아니면 코드 버그를 의심해야 한다.
	IngestFailedTotal int64

	// ======================
	// 이미지 저장 지표
	// ======================

	// BlobSavedTotal
	// - Blob Store 에 성공적으로 저장된 이미지 수 (capture + panel crop).
	BlobSavedTotal int64

	// BlobSaveErrorsTotal
	// - 저장 실패 또는 timeout 으로 참조가 null 이 된 이미지 수.
	BlobSaveErrorsTotal int64

	// ImageDecodeErrorsTotal
	// - base64 디코딩에 실패한 이미지 payload 수.
	ImageDecodeErrorsTotal int64

	// ======================
	// fanout 지표
	// ======================

	// BroadcastsTotal
	// - new_result broadcast 횟수.
	BroadcastsTotal int64

	// BroadcastDeliveriesTotal
	// - broadcast 가 실제로 enqueue 된 observer 연결 수의 누적 합.
	BroadcastDeliveriesTotal int64

	// ReplayedReportsTotal
	// - 새 observer 에게 replay 로 보낸 리포트 수.
	ReplayedReportsTotal int64

	// ObserversCurrent / ProducersCurrent
	// - 현재 연결된 세션 수 (gauge).
	ObserversCurrent int64
	ProducersCurrent int64

	// ObserversDroppedTotal
	// - 송신 큐가 가득 차서 강제로 끊은 연결 수.
	// - 느린 observer 가 ingestion 을 막지 않도록 끊어낸 횟수.
	ObserversDroppedTotal int64

	// HistorySize
	// - 현재 history buffer 에 있는 리포트 수 (gauge).
	HistorySize int64
}

func New() *Metrics {
	return &Metrics{}
}

type field struct {
	name  string
	help  string
	gauge bool
	ptr   *int64
}

func (m *Metrics) fields() []field {
	return []field{
		{"ingest_events_total", "pi_analysis_result events received", false, &m.IngestEventsTotal},
		{"ingest_accepted_total", "reports normalized and broadcast", false, &m.IngestAcceptedTotal},
		{"ingest_rejected_total", "events rejected by validation", false, &m.IngestRejectedTotal},
		{"ingest_failed_total", "events failed by unexpected internal errors", false, &m.IngestFailedTotal},
		{"blob_saved_total", "images persisted to the blob store", false, &m.BlobSavedTotal},
		{"blob_save_errors_total", "image saves that failed or timed out", false, &m.BlobSaveErrorsTotal},
		{"image_decode_errors_total", "image payloads that failed to decode", false, &m.ImageDecodeErrorsTotal},
		{"broadcasts_total", "new_result broadcasts", false, &m.BroadcastsTotal},
		{"broadcast_deliveries_total", "observer deliveries enqueued by broadcasts", false, &m.BroadcastDeliveriesTotal},
		{"replayed_reports_total", "reports replayed to newly connected observers", false, &m.ReplayedReportsTotal},
		{"observers_current", "connected observer sessions", true, &m.ObserversCurrent},
		{"producers_current", "connected producer sessions", true, &m.ProducersCurrent},
		{"observers_dropped_total", "sessions closed because their send queue was full", false, &m.ObserversDroppedTotal},
		{"history_size", "reports currently held in the history buffer", true, &m.HistorySize},
	}
}

// Register 는 카운터들을 Prometheus registry 에 func collector 로 등록한다.
// 값은 scrape 시점에 atomic load 로 읽는다.
func (m *Metrics) Register(reg prometheus.Registerer, namespace string) error {
	for _, f := range m.fields() {
		ptr := f.ptr
		value := func() float64 { return float64(atomic.LoadInt64(ptr)) }

		var c prometheus.Collector
		if f.gauge {
			c = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      f.name,
				Help:      f.help,
			}, value)
		} else {
			c = prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      f.name,
				Help:      f.help,
			}, value)
		}
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register %s: %w", f.name, err)
		}
	}
	return nil
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	for _, f := range m.fields() {
		fmt.Fprintf(&sb, "%s=%d\n", f.name, atomic.LoadInt64(f.ptr))
	}
	return sb.String()
}

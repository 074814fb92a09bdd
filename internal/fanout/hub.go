// internal/fanout/hub.go
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pi-receiver/internal/history"
	"pi-receiver/internal/metrics"
	"pi-receiver/internal/model"
	"pi-receiver/internal/normalize"

	"github.com/rs/zerolog/log"
)

// MessageAccepted 는 성공 ack 에 담기는 문구.
const MessageAccepted = "Analysis result received and broadcasted"

// ErrInternal 은 정규화/브로드캐스트 도중 panic 등 예상하지 못한 실패.
var ErrInternal = errors.New("internal error while processing analysis result")

// Normalizer 는 RawEvent 를 Report 로 바꾸는 쪽. (*normalize.Normalizer)
type Normalizer interface {
	Normalize(ctx context.Context, raw model.RawEvent) (model.Report, error)
}

// Gateway 는 세션 레이어가 Hub 에 제공하는 송신 primitive.
type Gateway interface {
	// Send 는 connID 한 곳에 이벤트를 보낸다. 연결이 없으면 error.
	Send(connID, event string, payload any) error

	// Broadcast 는 Subscribe 된 모든 observer 에게 보내고, enqueue 된 연결 수를 돌려준다.
	// 호출자를 block 하지 않는다.
	Broadcast(event string, payload any) int

	// Subscribe 는 connID 를 broadcast 대상에 넣는다.
	Subscribe(connID string) error
}

// Hub
// ------------------------------------------------------------
// 수집 → 정규화 → history → fanout 흐름을 묶는 지점.
//
//	received → validating → { rejected | normalizing } → { failed | broadcast }
//
// 순서 보장:
//   - history.Push + Broadcast 는 mu 안에서 한 번에 수행
//   - 새 observer 의 replay + Subscribe 도 같은 mu 안에서 수행
//
// 따라서 observer 는 replay 를 모두 받은 뒤에만 live 리포트를 받고,
// 같은 리포트를 replay 와 live 로 두 번 받지 않는다.
//
// 정규화(이미지 저장 포함)는 mu 밖에서 돌기 때문에 이벤트끼리 동시에 진행된다.
type Hub struct {
	normalizer Normalizer
	history    *history.Buffer
	gateway    Gateway
	metrics    *metrics.Metrics

	mu sync.Mutex
}

func New(n Normalizer, h *history.Buffer, gw Gateway, m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.New()
	}
	return &Hub{
		normalizer: n,
		history:    h,
		gateway:    gw,
		metrics:    m,
	}
}

// History 는 HTTP 조회용으로 현재 history 를 돌려준다.
func (h *Hub) History() []model.Report {
	return h.history.Snapshot()
}

// Ingest 는 RawEvent 1건을 처리하고 producer 에게 돌려줄 ack 를 만든다.
//
//   - 성공: err == nil
//   - 검증 실패: *normalize.ValidationError (history/broadcast 변화 없음)
//   - 그 외: ErrInternal 로 감싼 error
//
// ctx 의 취소는 전파하지 않는다. 한 번 들어온 이벤트는 끝까지 처리한다.
func (h *Hub) Ingest(ctx context.Context, raw model.RawEvent) (ack model.Ack, err error) {
	atomic.AddInt64(&h.metrics.IngestEventsTotal, 1)

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&h.metrics.IngestFailedTotal, 1)
			log.Error().
				Interface("panic", r).
				Interface("capture_id", raw["capture_id"]).
				Msg("ingest panic recovered")
			err = fmt.Errorf("%w: %v", ErrInternal, r)
			ack = model.Ack{Success: false, Error: ErrInternal.Error()}
		}
	}()

	report, err := h.normalizer.Normalize(context.WithoutCancel(ctx), raw)
	if err != nil {
		if normalize.IsValidation(err) {
			atomic.AddInt64(&h.metrics.IngestRejectedTotal, 1)
			log.Warn().Err(err).Interface("capture_id", raw["capture_id"]).Msg("analysis result rejected")
			return model.Ack{Success: false, Error: err.Error()}, err
		}
		atomic.AddInt64(&h.metrics.IngestFailedTotal, 1)
		log.Error().Err(err).Interface("capture_id", raw["capture_id"]).Msg("normalize failed")
		return model.Ack{Success: false, Error: ErrInternal.Error()}, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	delivered := h.publish(report)

	atomic.AddInt64(&h.metrics.IngestAcceptedTotal, 1)
	log.Info().
		Str("capture_id", report.CaptureID).
		Str("severity", string(report.Severity)).
		Float64("health_score", report.Analysis.HealthScore).
		Int("crops", len(report.Crops)).
		Int("observers", delivered).
		Msg("analysis result broadcast")

	return model.Ack{
		Success:   true,
		CaptureID: report.CaptureID,
		Message:   MessageAccepted,
	}, nil
}

// publish 는 history 에 넣고 observer 에게 broadcast 한다.
func (h *Hub) publish(report model.Report) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.history.Push(report)
	atomic.StoreInt64(&h.metrics.HistorySize, int64(h.history.Len()))

	n := h.gateway.Broadcast(model.EventResult, report)
	atomic.AddInt64(&h.metrics.BroadcastsTotal, 1)
	atomic.AddInt64(&h.metrics.BroadcastDeliveriesTotal, int64(n))
	return n
}

// OnIngestionEvent 는 producer 연결에서 pi_analysis_result 가 왔을 때 호출된다.
// 결과는 성공/실패와 관계없이 해당 producer 에게만 ack 로 돌려준다.
func (h *Hub) OnIngestionEvent(producerID string, raw model.RawEvent) {
	ack, _ := h.Ingest(context.Background(), raw)

	if err := h.gateway.Send(producerID, model.EventReceived, ack); err != nil {
		log.Warn().Err(err).Str("conn_id", producerID).Msg("ack not delivered")
	}
}

// OnObserverConnected 는 history 를 최신순으로 하나씩 보낸 뒤 broadcast 구독을 건다.
func (h *Hub) OnObserverConnected(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	snapshot := h.history.Snapshot()
	for i, r := range snapshot {
		if err := h.gateway.Send(connID, model.EventResult, r); err != nil {
			log.Warn().Err(err).Str("conn_id", connID).Int("sent", i).Msg("replay aborted")
			return
		}
	}
	atomic.AddInt64(&h.metrics.ReplayedReportsTotal, int64(len(snapshot)))

	if err := h.gateway.Subscribe(connID); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("subscribe failed")
		return
	}
	log.Info().Str("conn_id", connID).Int("replayed", len(snapshot)).Msg("observer connected")
}

// OnObserverDisconnected 는 로그만 남긴다. history 는 연결과 무관하다.
func (h *Hub) OnObserverDisconnected(connID string) {
	log.Info().Str("conn_id", connID).Msg("observer disconnected")
}

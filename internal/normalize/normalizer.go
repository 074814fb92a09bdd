// internal/normalize/normalizer.go
package normalize

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"pi-receiver/internal/blob"
	"pi-receiver/internal/clock"
	"pi-receiver/internal/metrics"
	"pi-receiver/internal/model"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// ReasonMissingFields 는 capture_id / report 가 없을 때 producer 에게 돌려주는 사유.
const ReasonMissingFields = "Missing required fields (capture_id/report)"

const (
	defaultPriority    = "NORMAL"
	defaultCropStatus  = "UNKNOWN"
	statusDusty        = "DUSTY"
	statusClean        = "CLEAN"
	defaultSaveTimeout = 5 * time.Second
)

// ValidationError 는 이벤트 자체를 거절해야 하는 유일한 실패.
// 이미지 디코딩/저장 실패는 여기에 해당하지 않는다.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidation 은 err 가 ValidationError 인지 확인한다.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Normalizer
// ------------------------------------------------------------
// RawEvent → Report 변환을 담당하는 유일한 지점.
//
//  1. capture_id / report 검사 (유일한 hard validation)
//  2. health_score 숫자 변환 (실패 시 0)
//  3. severity 계산
//  4. timestamp 보정 ("None" / 누락 → 현재 시각)
//  5. 메인 이미지 디코딩 + 저장 (실패해도 계속)
//  6. panel crop 별 기본값 + 이미지 저장 (crop 단위로 실패 격리)
//  7. rgb_stats 계산 (명시값 우선, 없으면 crop 에서 집계)
//  8. Report 조립
//
// 이미지가 없어도 health 경고는 전달되어야 하므로
// 이미지 관련 실패는 절대 전체 정규화를 실패시키지 않는다.
type Normalizer struct {
	store       blob.Store
	clock       clock.Clock
	saveTimeout time.Duration
	metrics     *metrics.Metrics
}

// Options 는 Normalizer 생성 인자. Store 외에는 생략 가능.
type Options struct {
	Store       blob.Store
	Clock       clock.Clock
	SaveTimeout time.Duration // 이미지 1건 저장 제한 시간
	Metrics     *metrics.Metrics
}

func New(opt Options) *Normalizer {
	if opt.Clock == nil {
		opt.Clock = clock.System{}
	}
	if opt.SaveTimeout <= 0 {
		opt.SaveTimeout = defaultSaveTimeout
	}
	if opt.Metrics == nil {
		opt.Metrics = metrics.New()
	}
	return &Normalizer{
		store:       opt.Store,
		clock:       opt.Clock,
		saveTimeout: opt.SaveTimeout,
		metrics:     opt.Metrics,
	}
}

// Normalize 는 raw 를 검증하고 Report 로 변환한다.
// 실패는 *ValidationError 뿐이다.
func (n *Normalizer) Normalize(ctx context.Context, raw model.RawEvent) (model.Report, error) {
	captureID, body, err := validate(raw)
	if err != nil {
		return model.Report{}, err
	}

	now := n.clock.Now()
	healthScore, _ := asFloat(body["health_score"])

	timestamp := clock.ISO(now)
	if ts, ok := asString(raw["timestamp"]); ok && ts != "" && ts != "None" {
		timestamp = ts
	}

	safeCaptureID := blob.Sanitize(captureID)

	// --- 메인 프레임 ---
	var primaryRef *string
	if payload, present := imagePayload(raw["frame_b64"]); present {
		primaryRef = n.saveImage(ctx, payload, blob.CategoryCapture, "capture_"+safeCaptureID, captureID, "")
	}

	// --- panel crops ---
	crops := n.crops(ctx, raw["panel_crops"], captureID, safeCaptureID)

	return model.Report{
		ID:         "pi-" + captureID,
		CaptureID:  captureID,
		Timestamp:  timestamp,
		ReceivedAt: clock.ISO(now),
		Severity:   model.SeverityFor(healthScore),
		Analysis: model.Analysis{
			HealthScore:      healthScore,
			Priority:         stringOr(body["priority"], defaultPriority),
			Recommendation:   stringOr(body["recommendation"], ""),
			Timeframe:        stringOr(body["timeframe"], ""),
			Summary:          stringOr(body["summary"], ""),
			RootCause:        stringOr(body["root_cause"], ""),
			ImpactAssessment: stringOr(body["impact_assessment"], ""),
		},
		Stats:           stats(raw["rgb_stats"], crops),
		PrimaryImageRef: primaryRef,
		Crops:           crops,
	}, nil
}

// validate 는 capture_id 와 report 본문을 꺼낸다.
func validate(raw model.RawEvent) (string, map[string]any, error) {
	if raw == nil || !truthy(raw["capture_id"]) || !truthy(raw["report"]) {
		return "", nil, &ValidationError{Reason: ReasonMissingFields}
	}
	captureID, ok := asString(raw["capture_id"])
	if !ok || captureID == "" {
		return "", nil, &ValidationError{Reason: "capture_id must be a string or number"}
	}
	body, ok := asMap(raw["report"])
	if !ok {
		return "", nil, &ValidationError{Reason: "report must be an object"}
	}
	return captureID, body, nil
}

func (n *Normalizer) crops(ctx context.Context, v any, captureID, safeCaptureID string) []model.CropResult {
	list, _ := v.([]any)
	out := make([]model.CropResult, 0, len(list))

	for i, item := range list {
		// object 가 아닌 항목은 빈 crop 으로 보고 기본값만 채운다.
		crop, _ := asMap(item)

		panelNumber := stringOr(crop["panel_number"], fmt.Sprintf("P%d", i+1))
		status := stringOr(crop["status"], defaultCropStatus)

		hasDust := status == statusDusty
		if b, ok := crop["has_dust"].(bool); ok {
			hasDust = b
		}

		var ref *string
		if payload, present := imagePayload(crop["image_b64"]); present {
			logicalID := "panel_" + blob.Sanitize(panelNumber) + "_cap" + safeCaptureID
			ref = n.saveImage(ctx, payload, blob.CategoryPanelCrop, logicalID, captureID, panelNumber)
		}

		out = append(out, model.CropResult{
			PanelNumber: panelNumber,
			Status:      status,
			HasDust:     hasDust,
			ImageRef:    ref,
		})
	}
	return out
}

// stats 는 rgb_stats 의 명시값을 우선하고, 빠진 항목만 crop 에서 집계한다.
func stats(v any, crops []model.CropResult) model.Stats {
	var dusty, clean int
	for _, c := range crops {
		switch c.Status {
		case statusDusty:
			dusty++
		case statusClean:
			clean++
		}
	}
	s := model.Stats{Total: len(crops), Clean: clean, Dusty: dusty}

	explicit, _ := asMap(v)
	if n, ok := asInt(explicit["total"]); ok {
		s.Total = n
	}
	if n, ok := asInt(explicit["clean"]); ok {
		s.Clean = n
	}
	if n, ok := asInt(explicit["dusty"]); ok {
		s.Dusty = n
	}
	return s
}

// imagePayload 는 이미지 필드가 채워져 있는지 본다.
// 문자열이 아닌 값이 들어와 있으면 present=true 와 빈 payload 를 돌려 디코딩 실패로 처리한다.
func imagePayload(v any) (string, bool) {
	if !truthy(v) {
		return "", false
	}
	s, _ := v.(string)
	return s, true
}

// saveImage 는 디코딩 + 저장을 수행하고 참조 경로를 돌려준다.
// 어떤 실패도 nil 참조로 흡수하고 로그만 남긴다.
func (n *Normalizer) saveImage(ctx context.Context, payload string, category blob.Category, logicalID, captureID, panel string) *string {
	logger := log.With().
		Str("capture_id", captureID).
		Str("category", string(category)).
		Str("panel", panel).
		Logger()

	data, err := DecodeImage(payload)
	if err != nil {
		atomic.AddInt64(&n.metrics.ImageDecodeErrorsTotal, 1)
		logger.Warn().Err(err).Msg("image decode failed")
		return nil
	}

	if n.store == nil {
		atomic.AddInt64(&n.metrics.BlobSaveErrorsTotal, 1)
		logger.Error().Msg("no blob store configured")
		return nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, n.saveTimeout)
	defer cancel()

	ref, err := n.store.Save(saveCtx, category, logicalID, data)
	if err != nil {
		atomic.AddInt64(&n.metrics.BlobSaveErrorsTotal, 1)
		logger.Error().Err(err).Msg("image save failed")
		return nil
	}

	atomic.AddInt64(&n.metrics.BlobSavedTotal, 1)
	logger.Debug().Str("ref", ref).Str("size", humanize.Bytes(uint64(len(data)))).Msg("image saved")
	return &ref
}

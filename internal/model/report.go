// internal/model/report.go
package model

// RawEvent
// ------------------------------------------------------------
// producer 가 보낸 pi_analysis_result payload 원본.
// 형태가 고정되어 있지 않으므로 map 으로 받고,
// normalize 패키지만 이 값을 읽어 Report 로 변환한다.
type RawEvent map[string]any

// Severity 는 health score 에서만 파생되는 4단계 등급이다.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityModerate Severity = "MODERATE"
	SeverityLow      Severity = "LOW"
)

// SeverityFor 는 health score 를 등급으로 바꾼다.
// 경계값은 위쪽 등급에 속한다 (30 → HIGH, 50 → MODERATE, 75 → LOW).
func SeverityFor(healthScore float64) Severity {
	switch {
	case healthScore < 30:
		return SeverityCritical
	case healthScore < 50:
		return SeverityHigh
	case healthScore < 75:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// Report
// ------------------------------------------------------------
// 정규화가 끝난 분석 결과. 생성 이후 변경하지 않는다.
// JSON 필드명은 대시보드 클라이언트가 기대하는 형태를 그대로 따른다.
type Report struct {
	ID         string   `json:"id"`          // "pi-" + CaptureID
	CaptureID  string   `json:"capture_id"`  // producer 가 준 상관관계 키
	Timestamp  string   `json:"timestamp"`   // producer 시각 (없으면 수신 시각)
	ReceivedAt string   `json:"received_at"` // 정규화 시각
	Severity   Severity `json:"severity"`

	Analysis Analysis `json:"report"`
	Stats    Stats    `json:"rgb_stats"`

	PrimaryImageRef *string      `json:"main_image_web"` // 이미지가 없거나 저장 실패 시 null
	Crops           []CropResult `json:"panel_crops"`
}

// Analysis 는 producer 가 보낸 텍스트 분석 결과.
type Analysis struct {
	HealthScore      float64 `json:"health_score"`
	Priority         string  `json:"priority"`
	Recommendation   string  `json:"recommendation"`
	Timeframe        string  `json:"timeframe"`
	Summary          string  `json:"summary"`
	RootCause        string  `json:"root_cause"`
	ImpactAssessment string  `json:"impact_assessment"`
}

// Stats 는 패널 집계 값.
type Stats struct {
	Total int `json:"total"`
	Clean int `json:"clean"`
	Dusty int `json:"dusty"`
}

// CropResult 는 패널 1장에 대한 판정 결과.
type CropResult struct {
	PanelNumber string  `json:"panel_number"`
	Status      string  `json:"status"`
	HasDust     bool    `json:"has_dust"`
	ImageRef    *string `json:"web_path"`
}

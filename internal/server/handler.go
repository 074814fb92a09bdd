package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"pi-receiver/internal/blob"
	"pi-receiver/internal/clock"
	"pi-receiver/internal/config"
	"pi-receiver/internal/model"
	"pi-receiver/internal/normalize"
	"pi-receiver/internal/pool"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Ingestor 는 Handler 가 쓰는 Hub 기능.
type Ingestor interface {
	Ingest(ctx context.Context, raw model.RawEvent) (model.Ack, error)
	History() []model.Report
}

type Handler struct {
	cfg   config.Config
	hub   Ingestor
	store blob.Store
	clock clock.Clock
}

func NewHandler(cfg config.Config, hub Ingestor, store blob.Store, c clock.Clock) *Handler {
	if c == nil {
		c = clock.System{}
	}
	return &Handler{
		cfg:   cfg,
		hub:   hub,
		store: store,
		clock: c,
	}
}

// HandleHealth 는 상태 없는 health 응답.
func (h *Handler) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": clock.ISO(h.clock.Now()),
		"service":   h.cfg.ServiceName,
	})
}

// HandleResults
//
// 대시보드가 처음 열릴 때 가져가는 최근 리포트 목록 (최신순).
// 응답이 커질 수 있으므로 라우터에서 gzhttp 로 감싼다.
func (h *Handler) HandleResults(w http.ResponseWriter, _ *http.Request) {
	results := h.hub.History()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(resultsResponse{Results: results, Count: len(results)}); err != nil {
		log.Error().Err(err).Msg("encode results failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type resultsResponse struct {
	Results []model.Report `json:"results"`
	Count   int            `json:"count"`
}

// HandleIngest
//
// 웹소켓을 쓰지 못하는 producer 를 위한 REST 수집 경로.
// 처리 흐름은 웹소켓과 같고 ack 를 HTTP 응답으로 돌려준다.
//
//	200: 성공
//	400: JSON 오류 / 필수 필드 누락
//	413: MaxBodySize 초과
//	500: 내부 오류
func (h *Handler) HandleIngest(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxBodySize)
	defer c.Request.Body.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, c.Request.Body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, model.Ack{Success: false, Error: "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, model.Ack{Success: false, Error: "failed to read body"})
		return
	}

	dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	dec.UseNumber()

	var raw model.RawEvent
	if err := dec.Decode(&raw); err != nil {
		c.JSON(http.StatusBadRequest, model.Ack{Success: false, Error: "invalid json"})
		return
	}

	ack, err := h.hub.Ingest(c.Request.Context(), raw)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, ack)
	case normalize.IsValidation(err):
		c.JSON(http.StatusBadRequest, ack)
	default:
		c.JSON(http.StatusInternalServerError, ack)
	}
}

// HandleImage 는 Blob Store 에 저장된 이미지를 돌려준다.
// 파일명은 저장 시 sanitize 된 형태만 허용된다.
func (h *Handler) HandleImage(c *gin.Context) {
	category, ok := blob.ParseCategory(c.Param("category"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	rc, err := h.store.Open(c.Request.Context(), category, c.Param("name"))
	if err != nil {
		if !errors.Is(err, blob.ErrNotFound) {
			log.Error().Err(err).Str("category", string(category)).Str("name", c.Param("name")).Msg("open image failed")
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNotFound)
		return
	}
	defer rc.Close()

	// 저장된 이미지는 다시 쓰이지 않는다.
	c.Header("Cache-Control", "public, max-age=86400")
	c.DataFromReader(http.StatusOK, -1, "image/jpeg", rc, nil)
}

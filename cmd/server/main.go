package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pi-receiver/internal/blob"
	"pi-receiver/internal/clock"
	"pi-receiver/internal/config"
	"pi-receiver/internal/fanout"
	"pi-receiver/internal/gateway"
	"pi-receiver/internal/history"
	"pi-receiver/internal/logger"
	"pi-receiver/internal/metrics"
	"pi-receiver/internal/normalize"
	"pi-receiver/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

const metricsNamespace = "pi_receiver"

func main() {

	// ====================================================================
	// Config & Logger
	// ====================================================================
	//
	// - Config: 기본값 < CONFIG_FILE(YAML) < 환경변수
	//   잘못된 값이 있으면 여기서 바로 종료한다.
	// - Logger: 이후 모든 로그는 zerolog 전역 logger 를 쓴다.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	// ====================================================================
	// Metrics
	// ====================================================================
	//
	// 내부 카운터(atomic)를 Prometheus registry 에 func collector 로 노출한다.
	// Go runtime / process collector 도 함께 등록.
	// ====================================================================
	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := m.Register(reg, metricsNamespace); err != nil {
		log.Fatal().Err(err).Msg("register metrics")
	}

	// ====================================================================
	// Blob Store
	// ====================================================================
	//
	// BLOB_BACKEND=file : 로컬 디스크 (BLOB_DIR 아래 captures/, panel_crops/)
	// BLOB_BACKEND=s3   : S3 (S3_PREFIX/<category>/<filename>)
	//
	// 어느 쪽이든 리포트에 들어가는 참조 경로는 /api/pi-images/... 로 같고,
	// 이미지는 이 서버를 통해 다시 읽는다.
	// ====================================================================
	store, err := newBlobStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.BlobBackend).Msg("init blob store")
	}

	// ====================================================================
	// Core pipeline
	// ====================================================================
	//
	//   gateway(producer) → hub → normalizer(+blob) → history → gateway(observers)
	//
	// gateway 와 hub 는 서로를 참조하므로 hub 를 만든 뒤 handler 로 연결한다.
	// ====================================================================
	norm := normalize.New(normalize.Options{
		Store:       store,
		Clock:       clock.System{},
		SaveTimeout: cfg.BlobSaveTimeout,
		Metrics:     m,
	})
	hist := history.New(cfg.HistorySize)

	gw := gateway.New(gateway.Options{
		SendBuffer:      cfg.WSSendBuffer,
		MaxMessageBytes: cfg.WSMaxMessageBytes,
		Metrics:         m,
	})
	hub := fanout.New(norm, hist, gw, m)
	gw.SetHandler(hub)

	// ====================================================================
	// HTTP
	// ====================================================================
	gin.SetMode(gin.ReleaseMode)
	router, err := server.NewRouter(server.NewHandler(cfg, hub, store, clock.System{}), gw, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("init router")
	}

	// ReadTimeout / WriteTimeout 은 두지 않는다.
	//  - 웹소켓 연결은 수명이 길고 deadline 은 gateway 가 직접 관리
	//  - REST 수집 body 는 이미지가 inline 이라 수십 MB 까지 온다
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM / SIGINT 수신 시:
	//   1) gateway 종료: 새 웹소켓 거절 + 기존 연결에 close frame
	//   2) HTTP 서버 종료: 진행 중인 REST 요청은 끝까지 처리
	//
	// history 는 메모리에만 있으므로 종료와 함께 사라진다.
	// ====================================================================
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		gw.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("blob_backend", cfg.BlobBackend).
		Int("history_size", cfg.HistorySize).
		Msg("pi receiver listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server terminated")
	}
	<-shutdownDone

	log.Info().Str("counters", m.String()).Msg("shutdown complete")
}

// newBlobStore 는 BLOB_BACKEND 에 맞는 Store 를 만든다.
func newBlobStore(cfg config.Config) (blob.Store, error) {
	switch cfg.BlobBackend {
	case config.BackendS3:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		client, err := blob.NewS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return blob.NewS3Store(client, blob.S3Options{
			Bucket:  cfg.S3Bucket,
			Prefix:  cfg.S3Prefix,
			Timeout: cfg.S3Timeout,
			Retries: cfg.S3AppRetries,
		}), nil

	default:
		fs, err := blob.NewFileStore(cfg.BlobDir, clock.System{})
		if err != nil {
			return nil, err
		}
		log.Info().Str("dir", fs.Root()).Msg("file blob store ready")
		return fs, nil
	}
}

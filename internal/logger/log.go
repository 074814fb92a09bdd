// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"pi-receiver/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수.
//
//  1. 로그 포맷 전환:
//     - LOG_PRETTY=true: 사람이 읽기 좋은 콘솔 출력
//     - LOG_PRETTY=false: JSON 출력 (수집기에서 검색/분석)
//
//  2. 공통 필드: 모든 로그에 "service", "instance" 를 붙인다.
//
//  3. 샘플링: LOG_SAMPLE_N > 1 이면 Debug/Info 는 N 개 중 1 개만 기록.
//     Warn/Error 는 항상 100% 기록.
//
// 사용 예:
//
//	logger.Init(cfg)
//	log.Info().Msg("receiver started")
func Init(cfg config.Config) {
	zlog.Logger = New(cfg, os.Stdout)

	// 표준 log 패키지(log.Printf 등)도 zerolog 를 거치게 한다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 Init 과 같은 규칙으로 w 에 기록하는 logger 를 만든다.
// 전역 레벨도 함께 설정된다.
func New(cfg config.Config, out io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w := out
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		}
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN > 1 {
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}

// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config
//
// 서비스 실행 시 필요한 모든 설정 값을 보관하는 구조체.
// 프로세스 시작 시점에 Load() 에 의해 한 번 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.
//
// 값의 우선순위:
//
//	기본값 < CONFIG_FILE(YAML) < 환경변수
type Config struct {

	// ---------------------------
	// 서버 식별자 / 네트워크
	// ---------------------------

	ServiceName string // health 응답 / 로그에 찍히는 서비스 이름
	InstanceID  string // 프로세스 고유 ID (호스트명 기반, 실패 시 랜덤 hex)
	HTTPAddr    string // HTTP 서버 bind 주소 (예: ":5001")

	// ---------------------------
	// 수집 파이프라인
	// ---------------------------

	HistorySize int   // 최근 리포트 보관 개수 (late joiner replay 용)
	MaxBodySize int64 // REST 수집 요청 body 최대 크기 (바이트)

	// ---------------------------
	// 이미지 저장소 (Blob Store)
	// ---------------------------

	BlobBackend     string        // "file" 또는 "s3"
	BlobDir         string        // file 백엔드 루트 디렉토리
	BlobSaveTimeout time.Duration // 이미지 1건 저장에 허용되는 최대 시간 (초과 시 실패 처리)

	// ---------------------------
	// S3 업로드 설정 (BlobBackend == "s3")
	// ---------------------------
	// SDK retry 는 0 으로 고정하고 재시도 횟수는 S3AppRetries 만 사용한다.

	AWSRegion    string
	S3Bucket     string
	S3Prefix     string
	S3Timeout    time.Duration // PutObject 시도 1회당 timeout
	S3AppRetries int

	// ---------------------------
	// WebSocket 세션
	// ---------------------------

	WSSendBuffer      int   // 연결별 송신 큐 크기 (가득 차면 해당 연결 종료)
	WSMaxMessageBytes int64 // 수신 프레임 최대 크기 (이미지가 inline 으로 들어옴)

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel   string
	LogPretty  bool
	LogSampleN uint32
}

const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// Load
//
// 환경 변수(및 CONFIG_FILE) 기반으로 Config 값을 초기화한다.
// 형식이 잘못된 값이 있으면 즉시 프로세스를 종료(fail-fast).
//
// ENV_FILE(기본 ".env") 이 있으면 먼저 환경변수로 읽어 들인다.
// 이미 설정된 환경변수는 덮어쓰지 않는다.
func Load() Config {
	if err := loadDotEnv(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	cfg, err := LoadFrom(os.LookupEnv)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

// loadDotEnv 는 기본 경로의 .env 가 없으면 조용히 넘어가고,
// ENV_FILE 로 지정한 파일이 없으면 에러를 돌려준다.
func loadDotEnv() error {
	path, explicit := os.LookupEnv("ENV_FILE")
	if path == "" {
		path, explicit = ".env", false
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LoadFrom 은 lookup 함수로부터 설정을 읽는다. 테스트에서는 map 기반 lookup 을 넘긴다.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	src := source{env: lookup}

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		ServiceName: src.str("SERVICE_NAME", "pi-receiver"),
		InstanceID:  src.str("INSTANCE_ID", fallbackInstanceID()),
		HTTPAddr:    src.str("HTTP_ADDR", ":5001"),

		BlobBackend: strings.ToLower(src.str("BLOB_BACKEND", BackendFile)),
		BlobDir:     src.str("BLOB_DIR", "./received_from_pi"),

		AWSRegion: src.str("AWS_REGION", ""),
		S3Bucket:  src.str("S3_BUCKET", ""),
		S3Prefix:  strings.Trim(src.str("S3_PREFIX", "pi-images"), "/"),

		LogLevel: src.str("LOG_LEVEL", "info"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	cfg.HistorySize, err = src.asInt("HISTORY_SIZE", 50)
	collect(err)
	cfg.MaxBodySize, err = src.asInt64("MAX_BODY_SIZE", 32<<20)
	collect(err)
	cfg.BlobSaveTimeout, err = src.asDur("BLOB_SAVE_TIMEOUT", 5*time.Second)
	collect(err)
	cfg.S3Timeout, err = src.asDur("S3_TIMEOUT", 5*time.Second)
	collect(err)
	cfg.S3AppRetries, err = src.asInt("S3_APP_RETRIES", 3)
	collect(err)
	cfg.WSSendBuffer, err = src.asInt("WS_SEND_BUFFER", 256)
	collect(err)
	cfg.WSMaxMessageBytes, err = src.asInt64("WS_MAX_MESSAGE_BYTES", 32<<20)
	collect(err)
	cfg.LogPretty, err = src.asBool("LOG_PRETTY", false)
	collect(err)
	sampleN, err := src.asInt("LOG_SAMPLE_N", 0)
	collect(err)
	if sampleN > 0 {
		cfg.LogSampleN = uint32(sampleN)
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 는 값들 사이의 조합이 올바른지 검사한다.
func (c Config) Validate() error {
	switch c.BlobBackend {
	case BackendFile:
		if c.BlobDir == "" {
			return errors.New("BLOB_DIR must be set for file backend")
		}
	case BackendS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET must be set for s3 backend")
		}
		if c.AWSRegion == "" {
			return errors.New("AWS_REGION must be set for s3 backend")
		}
		if c.S3AppRetries < 1 {
			return fmt.Errorf("S3_APP_RETRIES must be >= 1, got %d", c.S3AppRetries)
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("HISTORY_SIZE must be > 0, got %d", c.HistorySize)
	}
	if c.WSSendBuffer <= 0 {
		return fmt.Errorf("WS_SEND_BUFFER must be > 0, got %d", c.WSSendBuffer)
	}
	// replay 는 history 전체를 한 번에 큐에 넣는다.
	if c.WSSendBuffer < c.HistorySize {
		return fmt.Errorf("WS_SEND_BUFFER (%d) must be >= HISTORY_SIZE (%d)", c.WSSendBuffer, c.HistorySize)
	}
	return nil
}

// source
//
// 환경변수 → YAML 파일 순서로 값을 찾는다.
type source struct {
	env  func(string) (string, bool)
	file map[string]string
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := s.env(key); ok && v != "" {
		return v, true
	}
	if v, ok := s.file[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s source) str(key, def string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return def
}

func (s source) asInt(key string, def int) (int, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int %s=%q: %w", key, v, err)
	}
	return n, nil
}

func (s source) asInt64(key string, def int64) (int64, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("invalid int64 %s=%q: %w", key, v, err)
	}
	return n, nil
}

func (s source) asDur(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid duration %s=%q: %w", key, v, err)
	}
	return d, nil
}

func (s source) asBool(key string, def bool) (bool, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool %s=%q: %w", key, v, err)
	}
	return b, nil
}

// readFile
//
// CONFIG_FILE 은 환경변수와 같은 키를 쓰는 평평한 YAML 맵이다.
//
//	HTTP_ADDR: ":5001"
//	HISTORY_SIZE: 100
func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

// fallbackInstanceID
//
// 인스턴스 식별 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

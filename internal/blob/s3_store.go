// internal/blob/s3_store.go
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pi-receiver/internal/clock"
	"pi-receiver/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API 는 S3Store 가 사용하는 S3 client 메서드. *s3.Client 가 만족한다.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store 는 S3 백엔드.
// - key: <prefix>/<category>/<filename>
// - 참조 경로는 FileStore 와 같으므로 클라이언트는 백엔드를 구분하지 않는다.
//
// 업로드는 컨텍스트 기반(timeout + cancel-safe)이며
// 재시도(backoff) 로직을 포함한다.
type S3Store struct {
	client  S3API
	bucket  string
	prefix  string
	timeout time.Duration
	retries int
	clock   clock.Clock

	backoff    time.Duration
	maxBackoff time.Duration
}

// S3Options 는 S3Store 생성 인자.
type S3Options struct {
	Bucket  string
	Prefix  string
	Timeout time.Duration // PutObject 시도 1회당 timeout
	Retries int           // 애플리케이션 레벨 재시도 횟수 (SDK retry 는 0)
	Clock   clock.Clock
}

func NewS3Store(client S3API, opt S3Options) *S3Store {
	if opt.Retries < 1 {
		opt.Retries = 1
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	if opt.Clock == nil {
		opt.Clock = clock.System{}
	}
	return &S3Store{
		client:     client,
		bucket:     opt.Bucket,
		prefix:     opt.Prefix,
		timeout:    opt.Timeout,
		retries:    opt.Retries,
		clock:      opt.Clock,
		backoff:    200 * time.Millisecond,
		maxBackoff: 2 * time.Second,
	}
}

// NewS3Client 는 리전 설정을 로드하고 SDK retry 를 끈 client 를 만든다.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	// RetryMaxAttempts=0 은 "SDK 기본값(3회)" 이므로 NopRetryer 로 명시적으로 끈다.
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
	}), nil
}

func (s *S3Store) key(category Category, name string) string {
	if s.prefix == "" {
		return fmt.Sprintf("%s/%s", category, name)
	}
	return fmt.Sprintf("%s/%s/%s", s.prefix, category, name)
}

// Save
// -----------------------
// - 시도마다 timeout 적용
// - retry + exponential backoff (최대 2초)
// - ctx.Done() 시 즉시 중단
//
// body 는 매 재시도마다 reader 를 새로 만들어야 하므로 bytes.NewReader 사용.
func (s *S3Store) Save(ctx context.Context, category Category, logicalID string, data []byte) (string, error) {
	if !validCategory(category) {
		return "", fmt.Errorf("blob: unknown category %q", category)
	}
	name, err := Filename(logicalID, s.clock.Now())
	if err != nil {
		return "", err
	}
	key := s.key(category, name)

	var lastErr error
	backoff := s.backoff

	for attempt := 1; attempt <= s.retries; attempt++ {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("save %s: %w", key, ctx.Err())
		default:
		}

		if err := s.putObject(ctx, key, data); err == nil {
			return RefPath(category, name), nil
		} else {
			lastErr = err
		}

		if attempt == s.retries {
			break
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("save %s: %w", key, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
			if backoff > s.maxBackoff {
				backoff = s.maxBackoff
			}
		}
	}

	return "", fmt.Errorf("save %s after %d attempts: %w", key, s.retries, lastErr)
}

// putObject 는 PutObject 1회 호출. 재시도는 caller 가 담당한다.
func (s *S3Store) putObject(ctx context.Context, key string, data []byte) error {
	ctx2, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.PutObject(ctx2, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("image/jpeg"),
	})
	return err
}

func (s *S3Store) Open(ctx context.Context, category Category, name string) (io.ReadCloser, error) {
	if !validCategory(category) || !validName(name) {
		return nil, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(category, name)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return out.Body, nil
}

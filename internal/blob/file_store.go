// internal/blob/file_store.go
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"pi-receiver/internal/clock"
)

// FileStore 는 로컬 디스크 백엔드.
//
//	<root>/captures/<filename>
//	<root>/panel_crops/<filename>
type FileStore struct {
	root  string
	clock clock.Clock
}

// NewFileStore 는 카테고리 디렉토리를 미리 만든다.
func NewFileStore(root string, c clock.Clock) (*FileStore, error) {
	for _, cat := range Categories {
		if err := os.MkdirAll(filepath.Join(root, string(cat)), 0o755); err != nil {
			return nil, fmt.Errorf("create blob dir %s: %w", cat, err)
		}
	}
	if c == nil {
		c = clock.System{}
	}
	return &FileStore{root: root, clock: c}, nil
}

// Root 는 저장 루트 디렉토리.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) Save(ctx context.Context, category Category, logicalID string, data []byte) (string, error) {
	if !validCategory(category) {
		return "", fmt.Errorf("blob: unknown category %q", category)
	}
	name, err := Filename(logicalID, s.clock.Now())
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("save %s: %w", name, err)
	}

	path := filepath.Join(s.root, string(category), name)

	// 디스크 쓰기는 ctx 를 받지 않으므로 goroutine 에서 수행하고
	// deadline 이 먼저 오면 실패로 돌려준다.
	done := make(chan error, 1)
	go func() {
		done <- writeFile(path, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("save %s: %w", name, err)
		}
		return RefPath(category, name), nil
	case <-ctx.Done():
		return "", fmt.Errorf("save %s: %w", name, ctx.Err())
	}
}

func (s *FileStore) Open(_ context.Context, category Category, name string) (io.ReadCloser, error) {
	if !validCategory(category) || !validName(name) {
		return nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.root, string(category), name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// writeFile 은 임시 파일에 쓴 뒤 rename 한다.
// 정적 경로로 반쯤 쓰인 파일이 노출되지 않게 하기 위함.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

package migration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/ChenBigdata421/jxt-tenancy/sdk/pkg/json"
)

// ErrOutsideStore 路径不在导出目录内
var ErrOutsideStore = errors.New("artifact path outside export directory")

// Row 一行数据，列名到值
type Row = map[string]interface{}

// Artifact 一次导出的全部数据
type Artifact struct {
	TenantID   string           `json:"tenant_id"`
	ExportedAt time.Time        `json:"exported_at"`
	Tables     []string         `json:"tables"`
	Data       map[string][]Row `json:"data"`
}

// Records 数据总行数
func (a *Artifact) Records() int64 {
	var n int64
	for _, rows := range a.Data {
		n += int64(len(rows))
	}
	return n
}

// ArtifactStore 保存导出文件
type ArtifactStore interface {
	Save(ctx context.Context, a *Artifact) (string, error)
	Load(ctx context.Context, path string) (*Artifact, error)
	Remove(ctx context.Context, path string) error
}

// FileStore 每个导出一个 JSON 文件，文件名 {tenant}_{YYYYmmdd_HHMMSS}.json
type FileStore struct {
	mu  sync.Mutex
	fs  afero.Fs
	dir string
}

// NewFileStore 在 fs 的 dir 目录下保存导出文件
func NewFileStore(fs afero.Fs, dir string) *FileStore {
	return &FileStore{fs: fs, dir: dir}
}

// Dir 导出目录
func (s *FileStore) Dir() string {
	return s.dir
}

// Save 写临时文件后 rename，保证不会读到写了一半的文件
func (s *FileStore) Save(_ context.Context, a *Artifact) (string, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path, err := s.nextPath(a.TenantID, a.ExportedAt)
	if err != nil {
		return "", err
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename artifact: %w", err)
	}
	return path, nil
}

// 同一租户同一秒内的多次导出追加序号
func (s *FileStore) nextPath(tenantID string, at time.Time) (string, error) {
	base := fmt.Sprintf("%s_%s", tenantID, at.UTC().Format("20060102_150405"))
	path := filepath.Join(s.dir, base+".json")
	for i := 1; ; i++ {
		exists, err := afero.Exists(s.fs, path)
		if err != nil {
			return "", err
		}
		if !exists {
			return path, nil
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d.json", base, i))
	}
}

// resolve 只允许导出目录内的文件，不带目录的文件名按导出目录解析
func (s *FileStore) resolve(path string) (string, error) {
	if filepath.Base(path) == path {
		path = filepath.Join(s.dir, path)
	}
	rel, err := filepath.Rel(filepath.Clean(s.dir), filepath.Clean(path))
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s", ErrOutsideStore, path)
	}
	return filepath.Join(s.dir, rel), nil
}

// Load 读取导出文件，数字保持 json.Number
func (s *FileStore) Load(_ context.Context, path string) (*Artifact, error) {
	path, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.NewNumberDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %s: %w", path, err)
	}
	if a.Data == nil {
		a.Data = map[string][]Row{}
	}
	return &a, nil
}

// Remove 删除导出文件
func (s *FileStore) Remove(_ context.Context, path string) error {
	path, err := s.resolve(path)
	if err != nil {
		return err
	}
	return s.fs.Remove(path)
}

package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// Store persists settings. Load returns a nil State when nothing has been
// saved yet.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s State) error
}

// storeDelim separates koanf key paths. Heading names may contain dots and
// slashes, so neither can be used.
const storeDelim = "\x00"

// FileStore keeps settings in a YAML file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

func (f *FileStore) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(f.Path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	k := koanf.New(storeDelim)
	if err := k.Load(file.Provider(f.Path), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading settings file %s: %w", f.Path, err)
	}
	var st State
	if err := k.UnmarshalWithConf("", &st, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("unable to decode settings file %s: %w", f.Path, err)
	}
	return &st, nil
}

// Save writes the file atomically: a temporary sibling is written and then
// renamed over the target.
func (f *FileStore) Save(ctx context.Context, s State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

// MemoryStore keeps settings in memory. It is used when no settings file is
// configured.
type MemoryStore struct {
	mu    sync.Mutex
	state *State
	saves int
}

func (m *MemoryStore) Load(context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	st := m.state.Clone()
	return &st, nil
}

func (m *MemoryStore) Save(_ context.Context, s State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := s.Clone()
	m.state = &st
	m.saves++
	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

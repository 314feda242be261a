package state

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"github.com/picklr-io/fnstack/internal/ir"
)

// DefaultPath is where the local backend keeps the project state.
const DefaultPath = ".fnstack/state.json"

// FileVersion is the current layout of File.
const FileVersion = 1

// File is the persisted set of deploy records of one project, keyed by
// function name.
type File struct {
	Version int                   `json:"version"`
	Serial  int                   `json:"serial"`
	Lineage string                `json:"lineage"`
	Records map[string]*ir.Record `json:"records"`
}

// NewFile returns an empty state with a fresh lineage.
func NewFile() *File {
	return &File{Version: FileVersion, Lineage: uuid.NewString(), Records: make(map[string]*ir.Record)}
}

// Get returns the record of function name, or nil.
func (f *File) Get(name string) *ir.Record {
	if f == nil {
		return nil
	}
	return f.Records[name]
}

// Put stores rec under its function name.
func (f *File) Put(rec *ir.Record) {
	if f.Records == nil {
		f.Records = make(map[string]*ir.Record)
	}
	f.Records[rec.Name] = rec
}

// Delete drops the record of function name and reports whether it existed.
func (f *File) Delete(name string) bool {
	if _, ok := f.Records[name]; !ok {
		return false
	}
	delete(f.Records, name)
	return true
}

// Names returns the recorded function names in order.
func (f *File) Names() []string {
	return slices.Sorted(maps.Keys(f.Records))
}

// Encode renders f as indented JSON.
func Encode(f *File) ([]byte, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses state written by Encode.
func Decode(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if f.Version > FileVersion {
		return nil, fmt.Errorf("state version %d is newer than this build understands (%d)", f.Version, FileVersion)
	}
	if f.Records == nil {
		f.Records = make(map[string]*ir.Record)
	}
	return &f, nil
}

// Manager handles reading and writing of local state.
type Manager struct {
	path string
}

var _ Backend = (*Manager)(nil)

func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath
	}
	return &Manager{path: path}
}

// Path is the state file location.
func (m *Manager) Path() string { return m.path }

// Read loads the state from the configured path. A missing file is an
// empty state. Encrypted files are decrypted transparently.
func (m *Manager) Read(ctx context.Context) (*File, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return NewFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", m.path, err)
	}
	return decodeRaw(raw)
}

// Write saves the state, bumping its serial. When
// FNSTACK_STATE_ENCRYPTION_KEY is set the file is encrypted.
func (m *Manager) Write(ctx context.Context, f *File) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := encodeRaw(f)
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write state file %s: %w", m.path, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file %s: %w", m.path, err)
	}
	return nil
}

func decodeRaw(raw []byte) (*File, error) {
	if IsEncrypted(raw) {
		decrypted, err := DecryptState(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
		raw = decrypted
	}
	return Decode(raw)
}

func encodeRaw(f *File) ([]byte, error) {
	if f.Lineage == "" {
		f.Lineage = uuid.NewString()
	}
	f.Version = FileVersion
	f.Serial++
	data, err := Encode(f)
	if err != nil {
		return nil, err
	}
	encrypted, err := EncryptState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return encrypted, nil
}

// Update locks b, applies fn to the current state and writes the result.
// Nothing is written when fn fails.
func Update(ctx context.Context, b Backend, fn func(*File) error) error {
	if err := b.Lock(); err != nil {
		return err
	}
	defer b.Unlock()

	f, err := b.Read(ctx)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return b.Write(ctx, f)
}

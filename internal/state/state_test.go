package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/fnstack/internal/ir"
)

func record(name string) *ir.Record {
	return &ir.Record{
		Version:  ir.RecordVersion,
		Name:     name,
		Region:   "us-east-1",
		Function: ir.Handle{ID: name, Kind: ir.KindFunction, CreatedByUs: true},
		Role:     &ir.Handle{ID: name + "-role", Kind: ir.KindRole, CreatedByUs: true},
		Tags:     []ir.Tag{{Key: "env", Value: "prod"}},
	}
}

func TestManager_ReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	mgr := NewManager(path)
	ctx := context.Background()

	f, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, FileVersion, f.Version)
	assert.Equal(t, 0, f.Serial)
	assert.NotEmpty(t, f.Lineage)

	f.Put(record("f1"))
	require.NoError(t, mgr.Write(ctx, f))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Serial)
	assert.Equal(t, f.Lineage, got.Lineage)
	assert.Equal(t, record("f1"), got.Get("f1"))
	assert.Equal(t, []string{"f1"}, got.Names())
}

func TestManagerDefaultPath(t *testing.T) {
	assert.Equal(t, DefaultPath, NewManager("").Path())
}

func TestManagerWritesEncrypted(t *testing.T) {
	t.Setenv(EncryptionKeyEnvVar, "state-key")
	path := filepath.Join(t.TempDir(), "state.json")
	mgr := NewManager(path)
	ctx := context.Background()

	f := NewFile()
	f.Put(record("f1"))
	require.NoError(t, mgr.Write(ctx, f))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "f1-role")

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got.Get("f1"))
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	_, err := Decode([]byte(`{"version": 99, "records": {}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")
}

func TestDecodeFillsRecords(t *testing.T) {
	f, err := Decode([]byte(`{"version": 1}`))
	require.NoError(t, err)
	assert.NotNil(t, f.Records)
}

func TestFileDelete(t *testing.T) {
	f := NewFile()
	f.Put(record("b"))
	f.Put(record("a"))
	assert.Equal(t, []string{"a", "b"}, f.Names())
	assert.True(t, f.Delete("a"))
	assert.False(t, f.Delete("a"))
	assert.Equal(t, []string{"b"}, f.Names())
	assert.Nil(t, f.Get("a"))
}

func TestUpdate(t *testing.T) {
	mgr := NewManager(filepath.Join(t.TempDir(), "state.json"))
	ctx := context.Background()

	require.NoError(t, Update(ctx, mgr, func(f *File) error {
		f.Put(record("f1"))
		return nil
	}))

	boom := errors.New("boom")
	err := Update(ctx, mgr, func(f *File) error {
		f.Delete("f1")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := mgr.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Serial, "a failed update writes nothing")
	assert.NotNil(t, got.Get("f1"))

	_, err = os.Stat(mgr.lockPath())
	assert.True(t, os.IsNotExist(err), "the lock is released")
}

func TestLockConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	first := NewManager(path)
	second := NewManager(path)

	require.NoError(t, first.Lock())
	require.ErrorIs(t, second.Lock(), ErrLocked)
	require.ErrorIs(t, Update(context.Background(), second, func(*File) error { return nil }), ErrLocked)

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}

func TestNewBackend(t *testing.T) {
	ctx := context.Background()

	b, err := NewBackend(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &Manager{}, b)

	b, err = NewBackend(ctx, &BackendConfig{Type: "local", Config: map[string]string{"path": "x/state.json"}})
	require.NoError(t, err)
	assert.Equal(t, "x/state.json", b.(*Manager).Path())

	_, err = NewBackend(ctx, &BackendConfig{Type: "consul"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend type")
}

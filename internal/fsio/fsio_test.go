package fsio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriteAll(t *testing.T) {
	f := openTemp(t)
	require.NoError(t, WriteAll(f, []byte("hello world")))

	got, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	require.Equal(t, "hello world", string(got))
}

func TestLockUnlock_ExclusiveAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	f1, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f1.Close()

	require.NoError(t, Lock(f1))

	f2, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f2.Close()

	require.Error(t, Lock(f2))
	require.NoError(t, Unlock(f1))
	require.NoError(t, Lock(f2))
	require.NoError(t, Unlock(f2))
}

func TestBufferedWriter_FlushesAtLimit(t *testing.T) {
	f := openTemp(t)
	w := NewBufferedWriter(f, 8)

	require.NoError(t, w.Write([]byte("1234")))
	got, _ := os.ReadFile(f.Name())
	require.Empty(t, got, "small write should stay buffered")

	require.NoError(t, w.Write([]byte("5678")))
	got, _ = os.ReadFile(f.Name())
	require.Empty(t, got, "buffer exactly at limit should not flush early")

	require.NoError(t, w.Write([]byte("9")))
	got, _ = os.ReadFile(f.Name())
	require.Equal(t, "12345678", string(got), "overflow should flush the prior buffer first")

	require.NoError(t, w.Flush())
	got, _ = os.ReadFile(f.Name())
	require.Equal(t, "123456789", string(got))
}

func TestBufferedWriter_OversizeWriteBypassesBuffer(t *testing.T) {
	f := openTemp(t)
	w := NewBufferedWriter(f, 4)

	require.NoError(t, w.Write([]byte("abcdefgh")))
	got, _ := os.ReadFile(f.Name())
	require.Equal(t, "abcdefgh", string(got))
}

func TestBufferedWriter_Sync(t *testing.T) {
	f := openTemp(t)
	w := NewBufferedWriter(f, DefaultBufferLimit)
	require.NoError(t, w.Write([]byte("durable")))
	require.NoError(t, w.Sync())

	got, _ := os.ReadFile(f.Name())
	require.Equal(t, "durable", string(got))
}

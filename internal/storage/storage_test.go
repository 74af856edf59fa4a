package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/serial-scope/internal/errors"
)

func TestSaveText(t *testing.T) {
	t.Run("创建目录和文件", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "logs", "nested")

		path, err := SaveText(dir, "a.txt", "Distance = 1mm\n")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "a.txt"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "Distance = 1mm\n", string(data))
	})

	t.Run("已存在时追加", func(t *testing.T) {
		dir := t.TempDir()

		_, err := SaveText(dir, "a.txt", "first\n")
		require.NoError(t, err)
		path, err := SaveText(dir, "a.txt", "second\n")
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "first\nsecond\n", string(data))
	})

	t.Run("空文本", func(t *testing.T) {
		path, err := SaveText(t.TempDir(), "empty.txt", "")
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})

	t.Run("空文件名", func(t *testing.T) {
		_, err := SaveText(t.TempDir(), "", "x")
		assert.True(t, errors.Is(err, errors.ErrInvalidParam))
	})

	t.Run("目录路径被文件占用", func(t *testing.T) {
		base := t.TempDir()
		blocker := filepath.Join(base, "blocker")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

		_, err := SaveText(filepath.Join(blocker, "sub"), "a.txt", "x")
		assert.True(t, errors.Is(err, errors.ErrStorageMkdir))
	})

	t.Run("目标是目录", func(t *testing.T) {
		base := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(base, "a.txt"), 0o755))

		_, err := SaveText(base, "a.txt", "x")
		assert.True(t, errors.Is(err, errors.ErrStorageWrite))
	})
}

func TestTimestampedName(t *testing.T) {
	ts := time.Date(2024, 3, 9, 7, 5, 2, 0, time.Local)

	assert.Equal(t, "saved_log_20240309_070502.txt", TimestampedName("saved_log", ts))
	assert.Equal(t, "20240309_070502.txt", TimestampedName("", ts))
}

package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wfunc/serial-scope/internal/errors"
)

// timestampLayout 文件名中的时间格式 YYYYMMDD_HHMMSS
const timestampLayout = "20060102_150405"

// SaveText 将文本写入 dir/filename，目录不存在时创建，文件已存在时追加。返回文件路径
func SaveText(dir, filename, text string) (string, error) {
	if filename == "" {
		return "", errors.New(errors.ErrInvalidParam, "文件名不能为空")
	}
	if dir == "" {
		dir = "."
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, errors.ErrStorageMkdir, "目录: %s", dir)
	}

	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrStorageWrite, "文件: %s", path)
	}

	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", errors.Wrapf(err, errors.ErrStorageWrite, "文件: %s", path)
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, errors.ErrStorageWrite, "文件: %s", path)
	}

	return path, nil
}

// TimestampedName 生成 prefix_YYYYMMDD_HHMMSS.txt 形式的文件名
func TimestampedName(prefix string, t time.Time) string {
	if prefix == "" {
		return fmt.Sprintf("%s.txt", t.Format(timestampLayout))
	}
	return fmt.Sprintf("%s_%s.txt", prefix, t.Format(timestampLayout))
}

// Package sparse 把数据流写入文件，全零块以空洞代替
package sparse

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// BlockSize 判定空洞的粒度
const BlockSize = 4096

type Stats struct {
	Bytes    int64
	Holes    int64
	Duration time.Duration
}

// Rate 以 MiB/s 计
func (s Stats) Rate() float64 {
	secs := s.Duration.Seconds()
	if secs < 1 {
		secs = 1
	}
	return float64(s.Bytes) / (1024 * 1024) / secs
}

func (s Stats) String() string {
	return fmt.Sprintf("%d bytes copied, %d s, %.2f MiB/s", s.Bytes, int64(s.Duration.Seconds()), s.Rate())
}

// Copy 从 src 读到 EOF，写入 dst 的当前位置。
// 如果以空洞结尾，按总长度截断 dst 保证文件大小正确。
func Copy(ctx context.Context, dst *os.File, src io.Reader) (Stats, error) {
	start := time.Now()
	var st Stats
	buf := make([]byte, BlockSize)
	lastHole := false

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			block := buf[:n]
			if isZero(block) {
				if _, serr := dst.Seek(int64(n), io.SeekCurrent); serr != nil {
					return st, fmt.Errorf("cannot lseek: %w", serr)
				}
				st.Holes += int64(n)
				lastHole = true
			} else {
				if _, werr := dst.Write(block); werr != nil {
					return st, werr
				}
				lastHole = false
			}
			st.Bytes += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return st, err
		}
	}

	if lastHole {
		pos, err := dst.Seek(0, io.SeekCurrent)
		if err != nil {
			return st, fmt.Errorf("cannot lseek: %w", err)
		}
		if err := dst.Truncate(pos); err != nil {
			return st, fmt.Errorf("cannot ftruncate: %w", err)
		}
	}
	st.Duration = time.Since(start)
	return st, nil
}

// CopyToFile 创建（或截断）path 并写入；失败时删除已写的文件
func CopyToFile(ctx context.Context, path string, src io.Reader) (st Stats, err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return st, fmt.Errorf("unable to open file '%s' - %w", path, err)
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return Copy(ctx, f, src)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

package storagesync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"pvemigrate/internal/collab"

	"golang.org/x/time/rate"
)

// ExportFormat 选择卷的导出格式；raw 卷带不了快照
func ExportFormat(format string, withSnapshots bool) (string, error) {
	switch format {
	case "", "raw":
		if withSnapshots {
			return "", errors.New("raw volumes can't be exported with snapshots")
		}
		return collab.ExportRawSize, nil
	case "qcow2":
		return collab.ExportQcow2Size, nil
	}
	return "", fmt.Errorf("no export format for '%s' volumes", format)
}

// ImportFormat 导入流对应的卷格式
func ImportFormat(exportFormat string) (string, error) {
	switch exportFormat {
	case collab.ExportRawSize:
		return "raw", nil
	case collab.ExportQcow2Size:
		return "qcow2", nil
	}
	return "", fmt.Errorf("unsupported import format '%s'", exportFormat)
}

func WriteSizeHeader(w io.Writer, size int64) error {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(size))
	_, err := w.Write(hdr[:])
	return err
}

func ReadSizeHeader(r io.Reader) (int64, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, fmt.Errorf("unable to read size header: %w", err)
	}
	size := binary.BigEndian.Uint64(hdr[:])
	if size > 1<<60 {
		return 0, fmt.Errorf("invalid image size %d", size)
	}
	return int64(size), nil
}

const copyChunk = 64 * 1024

// limitedWriter 按 KiB/s 限速
type limitedWriter struct {
	ctx context.Context
	w   io.Writer
	lim *rate.Limiter
}

func newLimitedWriter(ctx context.Context, w io.Writer, kib int64) io.Writer {
	if kib <= 0 {
		return w
	}
	bps := kib * 1024
	burst := copyChunk
	if bps > int64(burst) {
		burst = int(bps)
	}
	return &limitedWriter{ctx: ctx, w: w, lim: rate.NewLimiter(rate.Limit(bps), burst)}
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > copyChunk {
			n = copyChunk
		}
		if err := l.lim.WaitN(l.ctx, n); err != nil {
			return written, err
		}
		m, err := l.w.Write(p[:n])
		written += m
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}

// Export 写出长度头和 size 字节的内容
func Export(ctx context.Context, w io.Writer, r io.Reader, size int64, bwlimitKiB int64) (int64, error) {
	if err := WriteSizeHeader(w, size); err != nil {
		return 0, err
	}
	lw := newLimitedWriter(ctx, w, bwlimitKiB)
	buf := make([]byte, copyChunk)
	n, err := io.CopyBuffer(lw, io.LimitReader(r, size), buf)
	if err != nil {
		return n, err
	}
	if n != size {
		return n, fmt.Errorf("short export: %d of %d bytes", n, size)
	}
	return n, nil
}

// Package logarchive compresses finished rsync run logs and reads them back.
package logarchive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/paulschiretz/pgl-rsync/pkg/hints"
	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

const ioBufferSize = 256 * 1024

// ErrNothingToCompress is returned when compression is off or there is no log.
var ErrNothingToCompress = hints.New("nothing to compress")

// Compress writes path+format.Ext() and removes the plain log. It returns the
// path of the log that remains. A None format or empty path returns path
// unchanged together with ErrNothingToCompress.
func Compress(ctx context.Context, path string, format Format, level Level) (finalPath string, retErr error) {
	if path == "" || format == None || format == "" {
		return path, ErrNothingToCompress
	}
	if err := ctx.Err(); err != nil {
		return path, err
	}

	src, err := os.Open(path)
	if err != nil {
		return path, fmt.Errorf("could not open run log %s: %w", path, err)
	}
	defer src.Close()

	target := path + format.Ext()
	tmp, err := os.CreateTemp(filepath.Dir(target), "pgl-rsync-*.tmp")
	if err != nil {
		return path, fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := compressStream(ctx, tmp, src, format, level); err != nil {
		return path, err
	}
	if err := tmp.Sync(); err != nil {
		return path, fmt.Errorf("failed to sync temp archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return path, fmt.Errorf("failed to close temp archive: %w", err)
	}
	if err := os.Chmod(tmpName, util.UserWritableFilePerms); err != nil {
		return path, fmt.Errorf("failed to set permissions on %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return path, fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}

	if err := os.Remove(path); err != nil {
		// Both copies exist; keep pointing at the compressed one.
		plog.Warn("Could not remove plain run log", "path", path, "error", err)
	}
	plog.Debug("Run log compressed", "path", target, "format", format)
	return target, nil
}

func compressStream(ctx context.Context, dst io.Writer, src io.Reader, format Format, level Level) (retErr error) {
	bufWriter := bufio.NewWriterSize(dst, ioBufferSize)

	var compressedWriter io.WriteCloser
	switch format {
	case Zstd:
		var encoderLevel zstd.EncoderLevel
		switch level {
		case Fastest:
			encoderLevel = zstd.SpeedFastest
		case Better:
			encoderLevel = zstd.SpeedBetterCompression
		case Best:
			encoderLevel = zstd.SpeedBestCompression
		default:
			encoderLevel = zstd.SpeedDefault
		}
		zw, err := zstd.NewWriter(bufWriter, zstd.WithEncoderLevel(encoderLevel))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zw
	case Gzip:
		var lvl int
		switch level {
		case Fastest:
			lvl = pgzip.BestSpeed
		case Better:
			lvl = 6
		case Best:
			lvl = pgzip.BestCompression
		default:
			lvl = pgzip.DefaultCompression
		}
		gw, err := pgzip.NewWriterLevel(bufWriter, lvl)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = gw
	default:
		return fmt.Errorf("unsupported log format: %s", format)
	}

	defer func() {
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	if _, err := io.Copy(compressedWriter, &ctxReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("failed to compress run log: %w", err)
	}
	return nil
}

// Open returns a reader over a run log, decompressing by file extension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	switch {
	case strings.HasSuffix(path, Gzip.Ext()):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create gzip reader for %s: %w", path, err)
		}
		return &stackedReader{Reader: gz, closers: []func() error{gz.Close, f.Close}}, nil
	case strings.HasSuffix(path, Zstd.Ext()):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd reader for %s: %w", path, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{func() error { zr.Close(); return nil }, f.Close}}, nil
	default:
		return f, nil
	}
}

type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// ctxReader stops a copy when ctx is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

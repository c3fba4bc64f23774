package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ArchiveStats contains statistics about an archive operation
type ArchiveStats struct {
	OriginalSize     int64           `json:"original_size"`
	ArchiveSize      int64           `json:"archive_size"`
	CompressionRatio float64         `json:"compression_ratio"`
	Algorithm        CompressionType `json:"algorithm"`
	Level            int             `json:"level"`
	FileCount        int             `json:"file_count"`
	Duration         time.Duration   `json:"duration"`
}

// ArchiveBuilder packs a dump directory into a single compressed tar
// artifact and reverses the operation during restore
type ArchiveBuilder struct {
	algorithm CompressionType
	level     int
}

// NewArchiveBuilder creates an ArchiveBuilder for the given algorithm
func NewArchiveBuilder(algorithm CompressionType, level int) (*ArchiveBuilder, error) {
	if !isValidCompressionType(algorithm) {
		return nil, NewArchiveError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return &ArchiveBuilder{algorithm: algorithm, level: level}, nil
}

// Algorithm returns the configured compression algorithm
func (ab *ArchiveBuilder) Algorithm() CompressionType {
	return ab.algorithm
}

// Pack walks srcDir and produces one compressed tar artifact
func (ab *ArchiveBuilder) Pack(srcDir string) ([]byte, *ArchiveStats, error) {
	start := time.Now()

	var buf bytes.Buffer
	compressor, err := ab.newWriter(&buf)
	if err != nil {
		return nil, nil, err
	}

	tw := tar.NewWriter(compressor)

	var originalSize int64
	var fileCount int

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		n, err := io.Copy(tw, f)
		if err != nil {
			return err
		}

		originalSize += n
		fileCount++
		return nil
	})
	if walkErr != nil {
		return nil, nil, NewArchiveError("failed to pack dump directory", walkErr)
	}

	if err := tw.Close(); err != nil {
		return nil, nil, NewArchiveError("failed to finalize tar stream", err)
	}
	if err := compressor.Close(); err != nil {
		return nil, nil, NewArchiveError("failed to finalize compression stream", err)
	}

	archived := buf.Bytes()
	stats := &ArchiveStats{
		OriginalSize:     originalSize,
		ArchiveSize:      int64(len(archived)),
		CompressionRatio: compressionRatio(originalSize, int64(len(archived))),
		Algorithm:        ab.algorithm,
		Level:            ab.level,
		FileCount:        fileCount,
		Duration:         time.Since(start),
	}

	return archived, stats, nil
}

// Unpack extracts an artifact produced by Pack into destDir
func (ab *ArchiveBuilder) Unpack(data []byte, destDir string) error {
	decompressor, err := ab.newReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer decompressor.Close()

	tr := tar.NewReader(decompressor)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return NewArchiveError("failed to read tar entry", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return NewArchiveError("failed to create directory", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return NewArchiveError("failed to create parent directory", err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, hdr.FileInfo().Mode())
			if err != nil {
				return NewArchiveError("failed to create file", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return NewArchiveError("failed to extract file", err)
			}
			if err := f.Close(); err != nil {
				return NewArchiveError("failed to close extracted file", err)
			}
		}
	}

	return nil
}

// safeJoin rejects tar entries that would escape the destination directory
func safeJoin(destDir, name string) (string, error) {
	target := filepath.Join(destDir, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", NewArchiveError(fmt.Sprintf("tar entry escapes destination: %s", name), nil)
	}
	return target, nil
}

func (ab *ArchiveBuilder) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch ab.algorithm {
	case CompressionTypeNone:
		return &nopWriteCloser{w}, nil
	case CompressionTypeGzip:
		level := ab.level
		if level < gzip.BestSpeed || level > gzip.BestCompression {
			level = gzip.DefaultCompression
		}
		gw, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, NewArchiveError("failed to create gzip writer", err)
		}
		return gw, nil
	case CompressionTypeLZ4:
		lw := lz4.NewWriter(w)
		if ab.level > 6 {
			if err := lw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
				return nil, NewArchiveError("failed to set LZ4 compression level", err)
			}
		}
		return lw, nil
	case CompressionTypeZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel(ab.level)))
		if err != nil {
			return nil, NewArchiveError("failed to create zstd writer", err)
		}
		return zw, nil
	default:
		return nil, NewArchiveError(fmt.Sprintf("unsupported compression algorithm: %s", ab.algorithm), nil)
	}
}

func (ab *ArchiveBuilder) newReader(r io.Reader) (io.ReadCloser, error) {
	switch ab.algorithm {
	case CompressionTypeNone:
		return io.NopCloser(r), nil
	case CompressionTypeGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, NewArchiveError("failed to create gzip reader", err)
		}
		return gr, nil
	case CompressionTypeLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CompressionTypeZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, NewArchiveError("failed to create zstd reader", err)
		}
		return &zstdReadCloser{zr}, nil
	default:
		return nil, NewArchiveError(fmt.Sprintf("unsupported compression algorithm: %s", ab.algorithm), nil)
	}
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 1:
		return zstd.SpeedFastest
	case level <= 3:
		return zstd.SpeedDefault
	case level <= 6:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func compressionRatio(originalSize, archiveSize int64) float64 {
	if originalSize == 0 {
		return 1.0
	}
	return float64(archiveSize) / float64(originalSize)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDumpFixture(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "full.sql"), []byte("CREATE TABLE orders (id INT);\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "binlogs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "binlogs", "binlog.000001"), []byte("INSERT INTO orders VALUES (1);\n"), 0o644))
	return dir
}

func TestArchiveBuilder_PackUnpackRoundTrip(t *testing.T) {
	algorithms := []CompressionType{
		CompressionTypeNone,
		CompressionTypeGzip,
		CompressionTypeLZ4,
		CompressionTypeZstd,
	}

	for _, algorithm := range algorithms {
		t.Run(string(algorithm), func(t *testing.T) {
			builder, err := NewArchiveBuilder(algorithm, 3)
			require.NoError(t, err)

			srcDir := writeDumpFixture(t)
			data, stats, err := builder.Pack(srcDir)
			require.NoError(t, err)
			require.NotEmpty(t, data)
			require.NotNil(t, stats)

			assert.Equal(t, algorithm, stats.Algorithm)
			assert.Equal(t, 2, stats.FileCount)
			assert.Equal(t, int64(len("CREATE TABLE orders (id INT);\n")+len("INSERT INTO orders VALUES (1);\n")), stats.OriginalSize)
			assert.Equal(t, int64(len(data)), stats.ArchiveSize)

			destDir := t.TempDir()
			require.NoError(t, builder.Unpack(data, destDir))

			full, err := os.ReadFile(filepath.Join(destDir, "full.sql"))
			require.NoError(t, err)
			assert.Equal(t, "CREATE TABLE orders (id INT);\n", string(full))

			binlog, err := os.ReadFile(filepath.Join(destDir, "binlogs", "binlog.000001"))
			require.NoError(t, err)
			assert.Equal(t, "INSERT INTO orders VALUES (1);\n", string(binlog))
		})
	}
}

func TestNewArchiveBuilder_RejectsUnknownAlgorithm(t *testing.T) {
	builder, err := NewArchiveBuilder(CompressionType("brotli"), 3)

	assert.Nil(t, builder)
	require.Error(t, err)
	assert.Equal(t, FailureKindArchive, KindOf(err))
	assert.Contains(t, err.Error(), "unsupported compression algorithm")
}

func TestArchiveBuilder_Algorithm(t *testing.T) {
	builder, err := NewArchiveBuilder(CompressionTypeZstd, 3)
	require.NoError(t, err)
	assert.Equal(t, CompressionTypeZstd, builder.Algorithm())
}

func TestArchiveBuilder_UnpackRejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	payload := []byte("malicious")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../evil.sql",
		Typeflag: tar.TypeReg,
		Mode:     0o644,
		Size:     int64(len(payload)),
	}))
	_, err := tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())

	builder, err := NewArchiveBuilder(CompressionTypeGzip, 6)
	require.NoError(t, err)

	destDir := t.TempDir()
	err = builder.Unpack(buf.Bytes(), destDir)

	require.Error(t, err)
	assert.Equal(t, FailureKindArchive, KindOf(err))
	assert.Contains(t, err.Error(), "escapes destination")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(destDir), "evil.sql"))
}

func TestArchiveBuilder_UnpackRejectsCorruptData(t *testing.T) {
	builder, err := NewArchiveBuilder(CompressionTypeGzip, 6)
	require.NoError(t, err)

	err = builder.Unpack([]byte("not a gzip stream"), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, FailureKindArchive, KindOf(err))
}

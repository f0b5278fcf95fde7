package dump_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gcp/rustywin/internal/dump"
)

func TestNilPathIsNoopSink(t *testing.T) {
	f, err := dump.Open("")
	require.NoError(t, err)
	require.Nil(t, f)
	require.NoError(t, f.Write([]byte("ignored")))
	require.NoError(t, f.Close())
}

func TestWriteAppendsBytes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rejected.bin")

	f, err := dump.Open(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.Write([]byte("abc")))
	require.NoError(t, f.Write([]byte("def")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "abcdef", string(got))
}

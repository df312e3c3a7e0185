package artifact_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/edgeworks-io/spearlet/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyChecksumAcceptsMatch(t *testing.T) {
	data := []byte("wasm module bytes")
	sum := sha256.Sum256(data)
	err := artifact.VerifyChecksum(data, hex.EncodeToString(sum[:]))
	assert.NoError(t, err)
}

func TestVerifyChecksumRejectsMismatch(t *testing.T) {
	err := artifact.VerifyChecksum([]byte("a"), "deadbeef")
	var mismatch *artifact.ErrChecksumMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestVerifyChecksumSkippedWhenEmpty(t *testing.T) {
	err := artifact.VerifyChecksum([]byte("anything"), "")
	assert.NoError(t, err)
}

func TestFileFetcherReadsBarePathAndFileURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.wasm")
	require.NoError(t, os.WriteFile(path, []byte("binary"), 0o644))

	f := artifact.FileFetcher{}
	data, err := f.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	data, err = f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))
}

func TestFetchAndVerifyEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.wasm")
	content := []byte("module content")
	require.NoError(t, os.WriteFile(path, content, 0o644))
	sum := sha256.Sum256(content)

	data, err := artifact.FetchAndVerify(context.Background(), artifact.FileFetcher{}, path, hex.EncodeToString(sum[:]))
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFetchAndVerifyRejectsBadChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.wasm")
	require.NoError(t, os.WriteFile(path, []byte("content"), 0o644))

	_, err := artifact.FetchAndVerify(context.Background(), artifact.FileFetcher{}, path, "0000")
	var mismatch *artifact.ErrChecksumMismatch
	require.ErrorAs(t, err, &mismatch)
}

func TestRouterDispatchesByScheme(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "module.wasm")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	r := artifact.Router{File: artifact.FileFetcher{}}
	data, err := r.Fetch(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	_, err = r.Fetch(context.Background(), "s3://bucket/key")
	assert.Error(t, err)
}

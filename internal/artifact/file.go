package artifact

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileFetcher reads executable bytes from the local filesystem. Accepts
// both bare paths and "file://" URIs.
type FileFetcher struct{}

func (FileFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: reading %q: %w", path, err)
	}
	return data, nil
}

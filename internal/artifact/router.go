package artifact

import (
	"context"
	"fmt"
	"strings"
)

// Router dispatches Fetch to a concrete Fetcher chosen by the uri's scheme,
// selecting between file/s3/azure per SPEC_FULL.md §4.9.
type Router struct {
	File  Fetcher
	S3    Fetcher
	Azure Fetcher
}

func (r Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		if r.S3 == nil {
			return nil, fmt.Errorf("artifact: no s3 fetcher configured for %q", uri)
		}
		return r.S3.Fetch(ctx, uri)
	case strings.Contains(uri, ".blob.core.windows.net/"):
		if r.Azure == nil {
			return nil, fmt.Errorf("artifact: no azure fetcher configured for %q", uri)
		}
		return r.Azure.Fetch(ctx, uri)
	default:
		if r.File == nil {
			return nil, fmt.Errorf("artifact: no file fetcher configured for %q", uri)
		}
		return r.File.Fetch(ctx, uri)
	}
}

package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureFetcher retrieves executable bytes from Azure Blob Storage URIs of
// the form "https://<account>.blob.core.windows.net/<container>/<blob>",
// authenticating via the ambient default Azure credential chain.
type AzureFetcher struct {
	cache map[string]*azblob.Client
}

// NewAzureFetcher constructs a fetcher that lazily builds one azblob.Client
// per storage account encountered.
func NewAzureFetcher() *AzureFetcher {
	return &AzureFetcher{cache: make(map[string]*azblob.Client)}
}

func (f *AzureFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	serviceURL, container, blobName, err := parseAzureURI(uri)
	if err != nil {
		return nil, err
	}

	client, ok := f.cache[serviceURL]
	if !ok {
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("artifact: azure default credential: %w", credErr)
		}
		client, err = azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("artifact: azure client for %q: %w", serviceURL, err)
		}
		f.cache[serviceURL] = client
	}

	resp, err := client.DownloadStream(ctx, container, blobName, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: azure download %q: %w", uri, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("artifact: reading azure blob body %q: %w", uri, err)
	}
	return data, nil
}

func parseAzureURI(uri string) (serviceURL, container, blobName string, err error) {
	u, parseErr := url.Parse(uri)
	if parseErr != nil {
		return "", "", "", fmt.Errorf("artifact: malformed azure uri %q: %w", uri, parseErr)
	}
	if !strings.HasSuffix(u.Host, ".blob.core.windows.net") {
		return "", "", "", fmt.Errorf("artifact: not an azure blob uri: %q", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("artifact: malformed azure blob path in %q", uri)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), parts[0], parts[1], nil
}

package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName string
	AccountKey  string
	SASToken    string // Shared Access Signature token
	Endpoint    string // Optional custom endpoint, e.g. Azurite
}

// AzureFileIO implements FileIO for Azure Blob Storage and ADLS Gen2.
type AzureFileIO struct {
	client     *azblob.Client
	properties map[string]string
}

// NewAzureFileIO creates a new Azure Blob file I/O handler.
func NewAzureFileIO(ctx context.Context, cfg *AzureConfig) (*AzureFileIO, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("account name is required")
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	if cfg.Endpoint != "" {
		serviceURL = strings.TrimRight(cfg.Endpoint, "/") + "/"
	}

	// Retries belong to RetryPolicy; the SDK makes a single attempt.
	clientOpts := &azblob.ClientOptions{}
	clientOpts.Retry.MaxRetries = -1

	var client *azblob.Client
	var err error

	switch {
	case cfg.AccountKey != "":
		credential, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, credential, clientOpts)
	case cfg.SASToken != "":
		client, err = azblob.NewClientWithNoCredential(serviceURL+"?"+strings.TrimPrefix(cfg.SASToken, "?"), clientOpts)
	default:
		client, err = azblob.NewClientWithNoCredential(serviceURL, clientOpts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureFileIO{
		client: client,
		properties: map[string]string{
			"scheme":  "az",
			"account": cfg.AccountName,
		},
	}, nil
}

// azureLocation is a parsed az://, azure:// or abfs[s]:// location.
type azureLocation struct {
	scheme    string
	authority string
	container string
	account   string
	path      string
}

// parseAzureURI accepts az://container/path, azure://container/path and
// abfs[s]://container@account.dfs.core.windows.net/path.
func parseAzureURI(uri string) (azureLocation, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return azureLocation{}, fmt.Errorf("invalid Azure URI: %w", err)
	}

	loc := azureLocation{
		scheme:    u.Scheme,
		authority: u.Host,
		path:      strings.TrimPrefix(u.Path, "/"),
	}

	switch u.Scheme {
	case "az", "azure":
		loc.container = u.Host
	case "abfs", "abfss":
		if u.User == nil || u.User.Username() == "" {
			return azureLocation{}, fmt.Errorf("invalid Azure URI %q: missing container", uri)
		}
		loc.container = u.User.Username()
		loc.authority = loc.container + "@" + u.Host
		loc.account, _, _ = strings.Cut(u.Host, ".")
	default:
		return azureLocation{}, fmt.Errorf("invalid Azure URI %q: unknown scheme", uri)
	}

	if loc.container == "" {
		return azureLocation{}, fmt.Errorf("invalid Azure URI %q: missing container", uri)
	}
	return loc, nil
}

func (l azureLocation) withPath(p string) string {
	return fmt.Sprintf("%s://%s/%s", l.scheme, l.authority, p)
}

// Open opens a file for reading.
func (a *AzureFileIO) Open(ctx context.Context, path string) (InputFile, error) {
	loc, err := parseAzureURI(path)
	if err != nil {
		return nil, err
	}
	return &azureInputFile{client: a.client, loc: loc, path: path}, nil
}

// Exists checks if a file exists.
func (a *AzureFileIO) Exists(ctx context.Context, path string) (bool, error) {
	f, err := a.Open(ctx, path)
	if err != nil {
		return false, err
	}
	return f.Exists(ctx)
}

// Properties returns the properties of this FileIO.
func (a *AzureFileIO) Properties() map[string]string {
	return a.properties
}

// ListFiles lists the blobs directly under a prefix, treating "/" as the
// directory separator.
func (a *AzureFileIO) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	loc, err := parseAzureURI(prefix)
	if err != nil {
		return nil, err
	}
	blobPrefix := loc.path
	if blobPrefix != "" && !strings.HasSuffix(blobPrefix, "/") {
		blobPrefix += "/"
	}

	var files []string
	pager := a.client.NewListBlobsFlatPager(loc.container, &azblob.ListBlobsFlatOptions{
		Prefix: &blobPrefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, azureError("list", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil || strings.Contains(strings.TrimPrefix(*item.Name, blobPrefix), "/") {
				continue
			}
			files = append(files, loc.withPath(*item.Name))
		}
	}
	return files, nil
}

// azureError classifies an SDK error: missing blobs and containers match ErrNotFound.
func azureError(op, path string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return notFound(op, path, err)
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return notFound(op, path, err)
	}
	return &IOError{Operation: op, Path: path, Cause: err}
}

// azureInputFile implements InputFile for Azure Blob Storage.
type azureInputFile struct {
	client *azblob.Client
	loc    azureLocation
	path   string
}

func (f *azureInputFile) Location() string {
	return f.path
}

func (f *azureInputFile) Exists(ctx context.Context) (bool, error) {
	_, err := f.Length(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (f *azureInputFile) Length(ctx context.Context) (int64, error) {
	blobClient := f.client.ServiceClient().NewContainerClient(f.loc.container).NewBlobClient(f.loc.path)
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return 0, azureError("stat", f.path, err)
	}
	if props.ContentLength == nil {
		return 0, nil
	}
	return *props.ContentLength, nil
}

func (f *azureInputFile) Open(ctx context.Context) (io.ReadCloser, error) {
	resp, err := f.client.DownloadStream(ctx, f.loc.container, f.loc.path, nil)
	if err != nil {
		return nil, azureError("get", f.path, err)
	}
	return resp.Body, nil
}

func (f *azureInputFile) OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	resp, err := f.client.DownloadStream(ctx, f.loc.container, f.loc.path, &azblob.DownloadStreamOptions{
		Range: blob.HTTPRange{Offset: offset, Count: length},
	})
	if err != nil {
		return nil, azureError("get", f.path, err)
	}
	return resp.Body, nil
}

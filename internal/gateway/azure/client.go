// Package azure serves the document tree from an Azure Blob container, treating
// "/"-delimited blob name prefixes as folders.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/gateway"
	dbhttp "github.com/portalworks/docbrowse/internal/http"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/models"
)

const copyPollInterval = 500 * time.Millisecond

// Client is the Azure Blob gateway. SDK retries are disabled in favor of
// http.ExecuteWithRetry.
type Client struct {
	container *container.Client
	layout    gateway.Layout
	retry     dbhttp.Config
	logger    *logging.Logger
}

// New creates a container client from the account URL and SAS token
func New(cfg config.AzureConfig, httpClient *nethttp.Client, logger *logging.Logger) (*Client, error) {
	if cfg.AccountURL == "" || cfg.Container == "" {
		return nil, gateway.NewError(gateway.KindNotConfigured, "connect", gateway.ErrNotConfigured)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	}
	if httpClient != nil {
		opts.Transport = httpClient
	}

	client, err := azblob.NewClientWithNoCredential(serviceURL(cfg.AccountURL, cfg.SASToken), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &Client{
		container: client.ServiceClient().NewContainerClient(cfg.Container),
		layout:    gateway.NewLayout(cfg.Prefix),
		retry:     dbhttp.DefaultConfig(),
		logger:    logger.Component("azure"),
	}, nil
}

// serviceURL appends the SAS token to the account URL
func serviceURL(accountURL, sas string) string {
	u := strings.TrimSuffix(accountURL, "/") + "/"
	sas = strings.TrimPrefix(strings.TrimSpace(sas), "?")
	if sas == "" {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + sas
	}
	return u + "?" + sas
}

func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, errType dbhttp.ErrorType) {
		c.logger.Debug().Str("op", op).Int("attempt", attempt).Str("class", dbhttp.ErrorTypeName(errType)).Err(err).Msg("retrying")
	}
	if err := dbhttp.ExecuteWithRetry(ctx, cfg, fn); err != nil {
		return classify(op, err)
	}
	return nil
}

// classify maps storage errors onto the gateway taxonomy
func classify(op string, err error) error {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return err
	}

	kind := gateway.KindUnknown
	status := 0

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.StatusCode
		kind = gateway.KindFromStatus(status)
	}

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		kind = gateway.KindNotFound
	case bloberror.HasCode(err, bloberror.AuthorizationFailure, bloberror.AuthorizationPermissionMismatch, bloberror.InsufficientAccountPermissions):
		kind = gateway.KindAccessDenied
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.InvalidAuthenticationInfo):
		kind = gateway.KindNeedsAuth
	case bloberror.HasCode(err, bloberror.BlobAlreadyExists):
		kind = gateway.KindOperationFailed
	}
	if kind == gateway.KindUnknown {
		kind = gateway.Classify(err)
	}
	return &gateway.Error{Kind: kind, Op: op, Status: status, Err: err}
}

func (c *Client) listDir(ctx context.Context, p string) ([]string, []gateway.ObjectInfo, error) {
	var prefixes []string
	var objects []gateway.ObjectInfo

	pager := c.container.NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: to(c.layout.DirPrefix(p)),
	})
	for pager.More() {
		var page container.ListBlobsHierarchyResponse
		err := c.call(ctx, "list", func() error {
			var err error
			page, err = pager.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		if page.Segment == nil {
			continue
		}
		for _, bp := range page.Segment.BlobPrefixes {
			if bp.Name != nil {
				prefixes = append(prefixes, *bp.Name)
			}
		}
		for _, item := range page.Segment.BlobItems {
			objects = append(objects, objectInfo(item))
		}
	}
	return prefixes, objects, nil
}

func objectInfo(item *container.BlobItem) gateway.ObjectInfo {
	info := gateway.ObjectInfo{}
	if item.Name != nil {
		info.Key = *item.Name
	}
	if item.Properties != nil {
		if item.Properties.ContentLength != nil {
			info.Size = *item.Properties.ContentLength
		}
		if item.Properties.LastModified != nil {
			info.Modified = *item.Properties.LastModified
		}
	}
	return info
}

// walk visits every blob under prefix until fn returns false
func (c *Client) walk(ctx context.Context, op, prefix string, fn func(gateway.ObjectInfo) bool) error {
	pager := c.container.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: to(prefix)})
	for pager.More() {
		var page container.ListBlobsFlatResponse
		err := c.call(ctx, op, func() error {
			var err error
			page, err = pager.NextPage(ctx)
			return err
		})
		if err != nil {
			return err
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if !fn(objectInfo(item)) {
				return nil
			}
		}
	}
	return nil
}

func to(s string) *string { return &s }

// List implements gateway.Gateway
func (c *Client) List(ctx context.Context, p string, force bool) (*models.Listing, error) {
	prefixes, objects, err := c.listDir(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.layout.BuildListing(p, prefixes, objects), nil
}

// Search implements gateway.Gateway by scanning blob names under the root prefix
func (c *Client) Search(ctx context.Context, query string) (*models.DirectoryPayload, error) {
	var objects []gateway.ObjectInfo
	err := c.walk(ctx, "search", c.layout.Prefix, func(o gateway.ObjectInfo) bool {
		objects = append(objects, o)
		return true
	})
	if err != nil {
		return nil, err
	}
	return c.layout.SearchObjects(query, objects, constants.SearchMaxResults), nil
}

// Upload implements gateway.Gateway. The block blob is staged from the stream,
// so a failed upload is retried from the start only when the body can seek.
func (c *Client) Upload(ctx context.Context, dir, name string, size int64, r io.Reader, onProgress gateway.ProgressFunc) error {
	name = models.JoinPath(dir, name)
	blobClient := c.container.NewBlockBlobClient(c.layout.ObjectKey(name))
	pr := gateway.NewProgressReader(r, size, onProgress)

	if _, ok := r.(io.Seeker); ok {
		err := c.call(ctx, "upload", func() error {
			if _, err := pr.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to seek upload body: %w", err)
			}
			_, err := blobClient.UploadStream(ctx, pr, &blockblob.UploadStreamOptions{})
			return err
		})
		if err != nil {
			return err
		}
	} else if _, err := blobClient.UploadStream(ctx, pr, &blockblob.UploadStreamOptions{}); err != nil {
		return classify("upload", err)
	}

	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// blobsOf returns the blob names making up item p
func (c *Client) blobsOf(ctx context.Context, op, p string, t models.EntryType) ([]string, error) {
	if t == models.EntryTypeFile {
		return []string{c.layout.ObjectKey(p)}, nil
	}
	var names []string
	err := c.walk(ctx, op, c.layout.DirPrefix(p), func(o gateway.ObjectInfo) bool {
		names = append(names, o.Key)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, gateway.NewError(gateway.KindNotFound, op, fmt.Errorf("%s: %w", p, gateway.ErrNotFound))
	}
	return names, nil
}

func (c *Client) deleteBlobs(ctx context.Context, op string, names []string) error {
	for _, n := range names {
		blobClient := c.container.NewBlobClient(n)
		err := c.call(ctx, op, func() error {
			_, err := blobClient.Delete(ctx, &blob.DeleteOptions{})
			return err
		})
		if err != nil && gateway.KindOf(err) != gateway.KindNotFound {
			return err
		}
	}
	return nil
}

// Delete implements gateway.Gateway. id is the item path.
func (c *Client) Delete(ctx context.Context, id string, t models.EntryType, parentPath string) error {
	names, err := c.blobsOf(ctx, "delete", id, t)
	if err != nil {
		return err
	}
	if t == models.EntryTypeFile {
		blobClient := c.container.NewBlobClient(names[0])
		return c.call(ctx, "delete", func() error {
			_, err := blobClient.Delete(ctx, &blob.DeleteOptions{})
			return err
		})
	}
	return c.deleteBlobs(ctx, "delete", names)
}

// copyBlob starts a server-side copy and waits for it to finish
func (c *Client) copyBlob(ctx context.Context, op, src, dst string) error {
	srcURL := c.container.NewBlobClient(src).URL()
	dstClient := c.container.NewBlobClient(dst)

	var status *blob.CopyStatusType
	err := c.call(ctx, op, func() error {
		resp, err := dstClient.StartCopyFromURL(ctx, srcURL, &blob.StartCopyFromURLOptions{})
		status = resp.CopyStatus
		return err
	})
	if err != nil {
		return err
	}

	for status != nil && *status == blob.CopyStatusTypePending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(copyPollInterval):
		}
		err := c.call(ctx, op, func() error {
			props, err := dstClient.GetProperties(ctx, &blob.GetPropertiesOptions{})
			status = props.CopyStatus
			return err
		})
		if err != nil {
			return err
		}
	}
	if status != nil && *status != blob.CopyStatusTypeSuccess {
		return gateway.NewError(gateway.KindOperationFailed, op, fmt.Errorf("copy of %s ended with status %s", src, *status))
	}
	return nil
}

func (c *Client) relocate(ctx context.Context, op, src, dst string, t models.EntryType, move bool) error {
	names, err := c.blobsOf(ctx, op, src, t)
	if err != nil {
		return err
	}
	for _, n := range names {
		if err := c.copyBlob(ctx, op, n, c.layout.Relocate(n, src, dst)); err != nil {
			return err
		}
	}
	if !move {
		return nil
	}
	return c.deleteBlobs(ctx, op, names)
}

// Rename implements gateway.Gateway as copy plus delete
func (c *Client) Rename(ctx context.Context, id, newName string, t models.EntryType, parentPath string) error {
	return c.relocate(ctx, "rename", id, models.JoinPath(models.ParentPath(id), newName), t, true)
}

// MoveOrCopy implements gateway.Gateway
func (c *Client) MoveOrCopy(ctx context.Context, id, destPath string, op models.TransferOp) error {
	if !op.Valid() {
		return gateway.NewError(gateway.KindValidation, "move_or_copy", fmt.Errorf("unknown operation %q", op))
	}

	t := models.EntryTypeFile
	err := c.walk(ctx, "stat", c.layout.DirPrefix(id), func(gateway.ObjectInfo) bool {
		t = models.EntryTypeFolder
		return false
	})
	if err != nil {
		return err
	}
	return c.relocate(ctx, string(op), id, models.JoinPath(destPath, models.BaseName(id)), t, op == models.OpMove)
}

// CreateFolder implements gateway.Gateway with an empty marker blob
func (c *Client) CreateFolder(ctx context.Context, parentPath, name string) error {
	blobClient := c.container.NewBlockBlobClient(c.layout.DirPrefix(models.JoinPath(parentPath, name)))
	return c.call(ctx, "create_folder", func() error {
		_, err := blobClient.UploadBuffer(ctx, []byte{}, &blockblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{BlobContentType: to(constants.FolderMarkerContentType)},
		})
		return err
	})
}

// BrowseSubfolders implements gateway.Gateway
func (c *Client) BrowseSubfolders(ctx context.Context, p string) ([]models.Folder, error) {
	prefixes, objects, err := c.listDir(ctx, p)
	if err != nil {
		return nil, err
	}
	listing := c.layout.BuildListing(p, prefixes, objects)
	if err := gateway.ListingError(listing); err != nil {
		return nil, err
	}
	return listing.Folders, nil
}

var _ gateway.Gateway = (*Client)(nil)

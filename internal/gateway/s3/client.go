// Package s3 serves the document tree from an S3 bucket, treating "/"-delimited
// key prefixes as folders.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	appconfig "github.com/portalworks/docbrowse/internal/config"
	"github.com/portalworks/docbrowse/internal/constants"
	"github.com/portalworks/docbrowse/internal/gateway"
	dbhttp "github.com/portalworks/docbrowse/internal/http"
	"github.com/portalworks/docbrowse/internal/logging"
	"github.com/portalworks/docbrowse/internal/models"
)

// Client is the S3 gateway. The SDK's own retryer is disabled; every call goes
// through http.ExecuteWithRetry so S3 and Azure share one retry policy.
type Client struct {
	client *s3.Client
	bucket string
	layout gateway.Layout
	retry  dbhttp.Config
	logger *logging.Logger
}

// New loads AWS configuration for cfg over the shared HTTP client
func New(ctx context.Context, cfg appconfig.S3Config, httpClient *nethttp.Client, logger *logging.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, gateway.NewError(gateway.KindNotConfigured, "connect", gateway.ErrNotConfigured)
	}
	if logger == nil {
		logger = logging.Nop()
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRetryMaxAttempts(1),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if httpClient != nil {
		opts = append(opts, config.WithHTTPClient(httpClient))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(awscreds.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken,
		)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Client{
		client: client,
		bucket: cfg.Bucket,
		layout: gateway.NewLayout(cfg.Prefix),
		retry:  dbhttp.DefaultConfig(),
		logger: logger.Component("s3"),
	}, nil
}

// call runs fn with retry and classifies the final error
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

// classify maps S3 API errors onto the gateway taxonomy
func classify(op string, err error) error {
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		return err
	}

	kind := gateway.KindUnknown
	status := 0

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status = re.HTTPStatusCode()
		kind = gateway.KindFromStatus(status)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			kind = gateway.KindNotFound
		case "AccessDenied", "AllAccessDisabled":
			kind = gateway.KindAccessDenied
		case "InvalidAccessKeyId", "ExpiredToken", "TokenRefreshRequired", "SignatureDoesNotMatch":
			kind = gateway.KindNeedsAuth
		}
	}
	if kind == gateway.KindUnknown {
		kind = gateway.Classify(err)
	}
	return &gateway.Error{Kind: kind, Op: op, Status: status, Err: err}
}

// listDir runs a delimited list of folder p
func (c *Client) listDir(ctx context.Context, p string) ([]string, []gateway.ObjectInfo, error) {
	var prefixes []string
	var objects []gateway.ObjectInfo

	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(c.layout.DirPrefix(p)),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := c.call(ctx, "list", func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
		for _, obj := range page.Contents {
			objects = append(objects, objectInfo(obj))
		}
	}
	return prefixes, objects, nil
}

func objectInfo(obj types.Object) gateway.ObjectInfo {
	return gateway.ObjectInfo{
		Key:      aws.ToString(obj.Key),
		Size:     aws.ToInt64(obj.Size),
		Modified: aws.ToTime(obj.LastModified),
	}
}

// walk visits every key under prefix until fn returns false
func (c *Client) walk(ctx context.Context, op, prefix string, fn func(gateway.ObjectInfo) bool) error {
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := c.call(ctx, op, func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if !fn(objectInfo(obj)) {
				return nil
			}
		}
	}
	return nil
}

// List implements gateway.Gateway. force has no meaning for S3, which keeps no server-side listing cache.
func (c *Client) List(ctx context.Context, p string, force bool) (*models.Listing, error) {
	prefixes, objects, err := c.listDir(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.layout.BuildListing(p, prefixes, objects), nil
}

// Search implements gateway.Gateway by scanning keys under the root prefix
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

// Upload implements gateway.Gateway. Non-seekable bodies are buffered so a
// retry can replay them.
func (c *Client) Upload(ctx context.Context, dir, name string, size int64, r io.Reader, onProgress gateway.ProgressFunc) error {
	body, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return gateway.NewError(gateway.KindOperationFailed, "upload", fmt.Errorf("failed to read %s: %w", name, err))
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	key := c.layout.ObjectKey(models.JoinPath(dir, name))
	pr := gateway.NewProgressReader(body, size, onProgress)
	err := c.call(ctx, "upload", func() error {
		if _, err := pr.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek upload body: %w", err)
		}
		_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          pr,
			ContentLength: aws.Int64(size),
		})
		return err
	})
	if err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return nil
}

// keysUnder collects every key of item p: the object itself for a file, or the
// marker and all descendants for a folder
func (c *Client) keysUnder(ctx context.Context, op, p string, t models.EntryType) ([]string, error) {
	if t == models.EntryTypeFile {
		return []string{c.layout.ObjectKey(p)}, nil
	}
	var keys []string
	err := c.walk(ctx, op, c.layout.DirPrefix(p), func(o gateway.ObjectInfo) bool {
		keys = append(keys, o.Key)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, gateway.NewError(gateway.KindNotFound, op, fmt.Errorf("%s: %w", p, gateway.ErrNotFound))
	}
	return keys, nil
}

func (c *Client) deleteKeys(ctx context.Context, op string, keys []string) error {
	for start := 0; start < len(keys); start += constants.DeleteBatchSize {
		end := min(start+constants.DeleteBatchSize, len(keys))
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, k := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(k)})
		}

		var out *s3.DeleteObjectsOutput
		err := c.call(ctx, op, func() error {
			var err error
			out, err = c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.bucket),
				Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
			})
			return err
		})
		if err != nil {
			return err
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return classify(op, &smithy.GenericAPIError{
				Code:    aws.ToString(first.Code),
				Message: fmt.Sprintf("%d keys not deleted, first %s: %s", len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message)),
			})
		}
	}
	return nil
}

// Delete implements gateway.Gateway. id is the item path.
func (c *Client) Delete(ctx context.Context, id string, t models.EntryType, parentPath string) error {
	if t == models.EntryTypeFile {
		return c.call(ctx, "delete", func() error {
			_, err := c.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(c.bucket),
				Key:    aws.String(c.layout.ObjectKey(id)),
			})
			return err
		})
	}
	keys, err := c.keysUnder(ctx, "delete", id, t)
	if err != nil {
		return err
	}
	return c.deleteKeys(ctx, "delete", keys)
}

func (c *Client) copyKey(ctx context.Context, op, src, dst string) error {
	return c.call(ctx, op, func() error {
		_, err := c.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(c.bucket),
			Key:        aws.String(dst),
			CopySource: aws.String(copySource(c.bucket, src)),
		})
		return err
	})
}

// copySource escapes each key segment for the x-amz-copy-source header
func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return bucket + "/" + strings.Join(parts, "/")
}

// relocate copies item src (and its descendants) to dst, then removes the
// originals when move is set. S3 has no rename, so this serves rename too.
func (c *Client) relocate(ctx context.Context, op, src, dst string, t models.EntryType, move bool) error {
	keys, err := c.keysUnder(ctx, op, src, t)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.copyKey(ctx, op, k, c.layout.Relocate(k, src, dst)); err != nil {
			return err
		}
	}
	if !move {
		return nil
	}
	return c.deleteKeys(ctx, op, keys)
}

// Rename implements gateway.Gateway
func (c *Client) Rename(ctx context.Context, id, newName string, t models.EntryType, parentPath string) error {
	dst := models.JoinPath(models.ParentPath(id), newName)
	return c.relocate(ctx, "rename", id, dst, t, true)
}

// MoveOrCopy implements gateway.Gateway. A folder is recognized by having keys
// below its prefix.
func (c *Client) MoveOrCopy(ctx context.Context, id, destPath string, op models.TransferOp) error {
	if !op.Valid() {
		return gateway.NewError(gateway.KindValidation, "move_or_copy", fmt.Errorf("unknown operation %q", op))
	}
	t, err := c.entryType(ctx, id)
	if err != nil {
		return err
	}
	dst := models.JoinPath(destPath, models.BaseName(id))
	return c.relocate(ctx, string(op), id, dst, t, op == models.OpMove)
}

func (c *Client) entryType(ctx context.Context, p string) (models.EntryType, error) {
	isDir := false
	err := c.walk(ctx, "stat", c.layout.DirPrefix(p), func(gateway.ObjectInfo) bool {
		isDir = true
		return false
	})
	if err != nil {
		return "", err
	}
	if isDir {
		return models.EntryTypeFolder, nil
	}
	return models.EntryTypeFile, nil
}

// CreateFolder implements gateway.Gateway with a zero-byte marker object
func (c *Client) CreateFolder(ctx context.Context, parentPath, name string) error {
	key := c.layout.DirPrefix(models.JoinPath(parentPath, name))
	return c.call(ctx, "create_folder", func() error {
		_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(c.bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
			ContentType:   aws.String(constants.FolderMarkerContentType),
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

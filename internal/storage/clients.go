// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrNotFound is returned when a remote object does not exist.
var ErrNotFound = errors.New("object not found")

// Client moves whole objects between a remote store and local files.
type Client interface {
	// Download copies loc into a new file under dir and returns its path
	// and size.
	Download(ctx context.Context, dir string, loc Location) (string, int64, error)
	Upload(ctx context.Context, loc Location, sourceFilename string) error
}

var (
	downloadCount metric.Int64Counter
	downloadBytes metric.Int64Counter
	uploadBytes   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/datamorph/internal/storage")

	var err error
	downloadCount, err = meter.Int64Counter(
		"datamorph.storage.download.count",
		metric.WithDescription("Number of object downloads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.count counter: %w", err))
	}

	downloadBytes, err = meter.Int64Counter(
		"datamorph.storage.download.bytes",
		metric.WithDescription("Bytes downloaded from object storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"datamorph.storage.upload.bytes",
		metric.WithDescription("Bytes uploaded to object storage"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}
}

// tempFileFor keeps the object's base name so format detection still
// works on the staged copy.
func tempFileFor(dir string, loc Location) (*os.File, error) {
	f, err := os.CreateTemp(dir, "*-"+filepath.Base(loc.Base()))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return f, nil
}

func isS3NotFound(err error) bool {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return true
		}
	}
	return false
}

type s3Client struct {
	client *s3.Client
}

// NewS3Client uses the default AWS credential chain and region.
func NewS3Client(ctx context.Context) (Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	otelaws.AppendMiddlewares(&cfg.APIOptions)
	return &s3Client{client: s3.NewFromConfig(cfg)}, nil
}

func (c *s3Client) Download(ctx context.Context, dir string, loc Location) (string, int64, error) {
	f, err := tempFileFor(dir, loc)
	if err != nil {
		return "", 0, err
	}

	size, err := manager.NewDownloader(c.client).Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	_ = f.Close()
	if err != nil {
		_ = os.Remove(f.Name())
		if isS3NotFound(err) {
			return "", 0, fmt.Errorf("%s: %w", loc, ErrNotFound)
		}
		return "", 0, fmt.Errorf("download %s: %w", loc, err)
	}

	attrs := metric.WithAttributes(attribute.String("scheme", string(SchemeS3)))
	downloadCount.Add(ctx, 1, attrs)
	downloadBytes.Add(ctx, size, attrs)
	return f.Name(), size, nil
}

func (c *s3Client) Upload(ctx context.Context, loc Location, sourceFilename string) error {
	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()
	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	_, err = manager.NewUploader(c.client).Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
		Body:   file,
		Metadata: map[string]string{
			"writer": "datamorph",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", loc, err)
	}
	uploadBytes.Add(ctx, stat.Size(), metric.WithAttributes(attribute.String("scheme", string(SchemeS3))))
	return nil
}

type azureClient struct {
	cred    *azidentity.DefaultAzureCredential
	clients map[string]*azblob.Client // by account
}

// NewAzureClient uses the default Azure credential chain.
func NewAzureClient() (Client, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return &azureClient{cred: cred, clients: make(map[string]*azblob.Client)}, nil
}

func (c *azureClient) forAccount(account string) (*azblob.Client, error) {
	if cl, ok := c.clients[account]; ok {
		return cl, nil
	}
	endpoint := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	cl, err := azblob.NewClient(endpoint, c.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client for %s: %w", account, err)
	}
	c.clients[account] = cl
	return cl, nil
}

func (c *azureClient) Download(ctx context.Context, dir string, loc Location) (string, int64, error) {
	cl, err := c.forAccount(loc.Account)
	if err != nil {
		return "", 0, err
	}
	resp, err := cl.DownloadStream(ctx, loc.Bucket, loc.Key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return "", 0, fmt.Errorf("%s: %w", loc, ErrNotFound)
		}
		return "", 0, fmt.Errorf("download %s: %w", loc, err)
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := tempFileFor(dir, loc)
	if err != nil {
		return "", 0, err
	}
	size, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", 0, fmt.Errorf("copy blob content: %w", err)
	}

	attrs := metric.WithAttributes(attribute.String("scheme", string(SchemeAzure)))
	downloadCount.Add(ctx, 1, attrs)
	downloadBytes.Add(ctx, size, attrs)
	return f.Name(), size, nil
}

func (c *azureClient) Upload(ctx context.Context, loc Location, sourceFilename string) error {
	cl, err := c.forAccount(loc.Account)
	if err != nil {
		return err
	}
	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()
	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	_, err = cl.UploadStream(ctx, loc.Bucket, loc.Key, file, &azblob.UploadStreamOptions{
		Metadata: map[string]*string{
			"writer": to.Ptr("datamorph"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", loc, err)
	}
	uploadBytes.Add(ctx, stat.Size(), metric.WithAttributes(attribute.String("scheme", string(SchemeAzure))))
	return nil
}

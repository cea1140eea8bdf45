package s3blob

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/vaultkeeper/internal/domain"
)

// minPartSize is the minimum allowed part size for S3 multipart uploads.
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter. Every key is placed under prefix.
type Writer struct {
	api    manager.UploadAPIClient
	bucket string
	prefix string
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client, prefix string) *Writer {
	return newWriter(c.S3(), c.Bucket(), prefix)
}

func newWriter(api manager.UploadAPIClient, bucket, prefix string) *Writer {
	return &Writer{api: api, bucket: bucket, prefix: prefix}
}

func (w *Writer) key(p string) string {
	if w.prefix == "" {
		return p
	}
	return path.Join(w.prefix, p)
}

// Put uploads data with a single PutObject request.
func (w *Writer) Put(ctx context.Context, p string, data io.Reader, contentType string) error {
	key := w.key(p)
	_, err := w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", key, err)
	}
	return nil
}

// PutMultipart uploads data with the multipart upload manager. partSize is
// clamped to the 5 MiB S3 minimum.
func (w *Writer) PutMultipart(ctx context.Context, p string, data io.Reader, partSize int64) error {
	if partSize < minPartSize {
		partSize = minPartSize
	}
	key := w.key(p)

	uploader := manager.NewUploader(w.api, func(u *manager.Uploader) {
		u.PartSize = partSize
	})
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(jsonlContentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)

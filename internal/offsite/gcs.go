// Package offsite copies backup files to a Google Cloud Storage bucket.
package offsite

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const uploadTimeout = 2 * time.Minute

// GCSUploader writes backups to gs://bucket/prefix/<file name>.
type GCSUploader struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSUploader creates a storage client. An empty credentialsFile falls back
// to Application Default Credentials.
func NewGCSUploader(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

// ObjectName returns the object key a local file is uploaded to.
func (u *GCSUploader) ObjectName(localPath string) string {
	if u.prefix == "" {
		return filepath.Base(localPath)
	}
	return path.Join(u.prefix, filepath.Base(localPath))
}

// Upload copies the file and returns its gs:// URI.
func (u *GCSUploader) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open file %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	object := u.ObjectName(localPath)
	w := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	w.ContentType = "application/vnd.sqlite3"

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	return "gs://" + u.bucket + "/" + object, nil
}

// Download fetches a gs:// object into destPath.
func (u *GCSUploader) Download(ctx context.Context, uri, destPath string) (int64, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return 0, err
	}

	rc, err := u.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("read object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("create %q: %w", destPath, err)
	}
	n, err := io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("download %s: %w", uri, err)
	}
	return n, nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// ParseURI splits gs://bucket/path/to/object into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

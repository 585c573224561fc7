package publish

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"reelchain/internal/config"
	"reelchain/internal/services"
)

const (
	component     = "publish"
	defaultRegion = "us-east-1"
)

// Uploader stores final outputs in a bucket.
type Uploader struct {
	client  *minio.Client
	bucket  string
	expires time.Duration
}

// New returns an Uploader for cfg, or nil when publishing is disabled.
func New(cfg *config.Config) (*Uploader, error) {
	if cfg == nil || !cfg.Publish.Enabled {
		return nil, nil
	}
	p := cfg.Publish
	client, err := minio.New(p.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(p.AccessKey, p.SecretKey, ""),
		Secure:       p.UseSSL,
		Region:       defaultRegion,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "init", "create object storage client", err)
	}
	return &Uploader{
		client:  client,
		bucket:  p.Bucket,
		expires: time.Duration(p.PresignHours) * time.Hour,
	}, nil
}

// ObjectName returns the key used for a job's output file.
func ObjectName(jobID, localPath string) string {
	return path.Join("jobs", jobID, filepath.Base(localPath))
}

// EnsureBucket creates the bucket when it does not exist.
func (u *Uploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return services.Wrap(services.ErrServiceUnreachable, component, "bucket_exists", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: defaultRegion}); err != nil {
		return services.Wrap(services.ErrServiceRejected, component, "make_bucket", u.bucket, err)
	}
	return nil
}

// Publish uploads localPath for jobID and returns a presigned GET URL.
func (u *Uploader) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	if err := u.EnsureBucket(ctx); err != nil {
		return "", err
	}
	object := ObjectName(jobID, localPath)
	if _, err := u.client.FPutObject(ctx, u.bucket, object, localPath, minio.PutObjectOptions{
		ContentType: "video/mp4",
	}); err != nil {
		return "", services.Wrap(services.ErrServiceUnreachable, component, "upload", object, err)
	}

	params := make(url.Values)
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(localPath)))
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, object, u.expires, params)
	if err != nil {
		return "", services.Wrap(services.ErrServiceRejected, component, "presign", object, err)
	}
	return presigned.String(), nil
}

// Package publish uploads assembled videos to S3-compatible object storage
// and returns a presigned download URL. Publishing is optional and its
// failures never change a job's outcome.
package publish

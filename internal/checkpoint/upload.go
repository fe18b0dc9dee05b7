package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader pushes a saved checkpoint file to remote storage.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (uri string, err error)
}

// UploadError wraps a failed upload. Uploads are not retried.
type UploadError struct {
	Target string
	Err    error
}

func (e UploadError) Error() string {
	return fmt.Sprintf("upload checkpoint to %s: %v", e.Target, e.Err)
}

func (e UploadError) Unwrap() error { return e.Err }

// IsUploadError reports whether err is an UploadError.
func IsUploadError(err error) bool {
	var ue UploadError
	return errors.As(err, &ue)
}

// NoopUploader discards uploads.
type NoopUploader struct{}

func (NoopUploader) Upload(_ context.Context, localPath string) (string, error) {
	return "", nil
}

// ObjectPutter is the subset of the S3 client used by S3Uploader.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader writes the checkpoint to s3://Bucket/Key. An empty Key uses the
// local file name.
type S3Uploader struct {
	Bucket string
	Key    string
	client ObjectPutter
	log    zerolog.Logger
}

// NewS3Uploader loads the default AWS config (env, shared files, IMDS) and
// returns an uploader for bucket.
func NewS3Uploader(ctx context.Context, bucket, key, region string) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 uploader: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewS3UploaderWithClient(s3.NewFromConfig(cfg), bucket, key), nil
}

// NewS3UploaderWithClient builds an uploader around an existing client.
func NewS3UploaderWithClient(client ObjectPutter, bucket, key string) *S3Uploader {
	return &S3Uploader{Bucket: bucket, Key: key, client: client, log: zerolog.Nop()}
}

// SetLogger sets the uploader logger.
func (u *S3Uploader) SetLogger(l zerolog.Logger) { u.log = l }

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	key := u.Key
	if key == "" {
		key = filepath.Base(localPath)
	}
	uri := "s3://" + u.Bucket + "/" + key
	f, err := os.Open(localPath)
	if err != nil {
		return "", UploadError{Target: uri, Err: err}
	}
	defer f.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", UploadError{Target: uri, Err: err}
	}
	u.log.Info().Str("uri", uri).Str("path", localPath).Msg("checkpoint uploaded")
	return uri, nil
}

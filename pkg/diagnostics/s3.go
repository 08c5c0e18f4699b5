package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds configuration for uploading bundles to S3 or an
// S3-compatible store.
type S3Config struct {
	Bucket string
	// Prefix is prepended to the object key of every bundle
	Prefix string
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for MinIO
	Endpoint     string
	UsePathStyle bool
	// AccessKeyID and SecretAccessKey select static credentials; when empty
	// the default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Uploader uploads bundles to a bucket
type S3Uploader struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Uploader creates an uploader from cfg
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("region is required for S3 client")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Uploader{
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// Key returns the object key of a local bundle file
func (u *S3Uploader) Key(file string) string {
	return path.Join(u.prefix, filepath.Base(file))
}

// Upload stores the file and returns the object location
func (u *S3Uploader) Upload(ctx context.Context, file string) (string, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()

	out, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.Key(file)),
		Body:   f,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", file, u.bucket, err)
	}
	return out.Location, nil
}

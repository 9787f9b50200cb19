// Package s3blob stores trade and monitoring archives in S3 or any
// S3-compatible object store (MinIO, R2, iDrive e2).
package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/stratbot/internal/domain"
)

// Payloads above multipartThreshold go through the upload manager in
// partSize chunks (the S3 minimum part is 5 MiB).
const (
	multipartThreshold = 8 << 20
	partSize           = 5 << 20
)

// ClientConfig holds connection parameters. Endpoint is empty for AWS S3.
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool // only used when Endpoint has no scheme
	ForcePathStyle bool
}

// Bucket is a domain.ObjectStore bound to one S3 bucket.
type Bucket struct {
	s3       *s3.Client
	uploader *manager.Uploader
	name     string
}

// New builds a Bucket with static credentials. It does not contact S3; the
// health endpoint calls Health for that.
func New(ctx context.Context, cfg ClientConfig) (*Bucket, error) {
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("s3blob: bucket is required")
	case cfg.Region == "":
		return nil, errors.New("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &Bucket{
		s3:       client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) { u.PartSize = partSize }),
		name:     cfg.Bucket,
	}, nil
}

// Health checks that the bucket is reachable.
func (b *Bucket) Health(ctx context.Context) error {
	if _, err := b.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", b.name, err)
	}
	return nil
}

// Put uploads body to key.
func (b *Bucket) Put(ctx context.Context, key string, body []byte, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	var err error
	if len(body) > multipartThreshold {
		_, err = b.uploader.Upload(ctx, in)
	} else {
		in.ContentLength = aws.Int64(int64(len(body)))
		_, err = b.s3.PutObject(ctx, in)
	}
	if err != nil {
		return fmt.Errorf("s3blob: put %s (%d bytes): %w", key, len(body), err)
	}
	return nil
}

// Get returns the object body, which the caller must close. A missing key
// yields domain.ErrNotFound.
func (b *Bucket) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.s3.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(b.name), Key: aws.String(key)})
	if isNotFound(err) {
		return nil, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	return out.Body, nil
}

// List returns every object under prefix.
func (b *Bucket) List(ctx context.Context, prefix string) ([]domain.ArchiveObject, error) {
	var objs []domain.ArchiveObject
	pages := s3.NewListObjectsV2Paginator(b.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.name),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, o := range page.Contents {
			obj := domain.ArchiveObject{Key: aws.ToString(o.Key), Size: aws.ToInt64(o.Size)}
			if o.LastModified != nil {
				obj.LastModified = *o.LastModified
			}
			objs = append(objs, obj)
		}
	}
	return objs, nil
}

// Exists reports whether key is present.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.s3.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(b.name), Key: aws.String(key)})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
}

// isNotFound matches NoSuchKey, NotFound (HeadObject) and bare 404s from
// S3-compatible providers.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

var _ domain.ObjectStore = (*Bucket)(nil)

package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const s3Scheme = "s3://"

// DefaultURLExpiry bounds presigned download links handed to reviewers.
const DefaultURLExpiry = 24 * time.Hour

// S3Options configures an S3Store.
type S3Options struct {
	Bucket   string
	Region   string
	Endpoint string // non-empty enables path-style addressing (MinIO and similar)
	Prefix   string
	Expiry   time.Duration
}

// S3Store keeps artifacts in an S3-compatible bucket.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	expiry  time.Duration
}

// NewS3Store loads the default AWS credential chain and returns a store for opts.Bucket.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		})
	}

	return newS3Store(s3.NewFromConfig(cfg, s3opts...), opts), nil
}

func newS3Store(client *s3.Client, opts S3Options) *S3Store {
	expiry := opts.Expiry
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		expiry:  expiry,
	}
}

// Put uploads r and returns an s3://bucket/key reference.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	// The body is buffered so the SDK can compute its checksum.
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectKey := path.Join(s.prefix, key)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return s3Scheme + s.bucket + "/" + objectKey, nil
}

// Open downloads the object behind ref.
func (s *S3Store) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	return out.Body, nil
}

// URL returns a presigned GET link valid for the configured expiry.
func (s *S3Store) URL(ctx context.Context, ref string) (string, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return "", fmt.Errorf("s3 presign: %w", err)
	}
	return req.URL, nil
}

func parseS3Ref(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, s3Scheme) {
		return "", "", fmt.Errorf("not an s3 artifact reference: %q", ref)
	}
	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed s3 artifact reference: %q", ref)
	}
	return bucket, key, nil
}

package io

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config holds S3 configuration.
type S3Config struct {
	Region          string
	Endpoint        string // For MinIO or other S3-compatible services
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool // Required for MinIO
}

// S3FileIO reads tables stored in S3 or an S3-compatible service.
type S3FileIO struct {
	client     *s3.Client
	properties map[string]string
}

// NewS3FileIO creates a new S3 file I/O handler. Credentials not given in
// cfg come from the default AWS chain.
func NewS3FileIO(ctx context.Context, cfg *S3Config) (*S3FileIO, error) {
	opts := []func(*config.LoadOptions) error{
		// Retries belong to RetryPolicy; the SDK makes a single attempt.
		config.WithRetryMaxAttempts(1),
	}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
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
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3FileIO{
		client: client,
		properties: map[string]string{
			"scheme": "s3",
			"region": awsCfg.Region,
		},
	}, nil
}

// s3Location is a parsed s3:// or s3a:// location.
type s3Location struct {
	scheme string
	bucket string
	key    string
}

func parseS3URI(uri string) (s3Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return s3Location{}, fmt.Errorf("invalid S3 URI: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "s3" && scheme != "s3a" {
		return s3Location{}, fmt.Errorf("invalid S3 URI %q: scheme must be s3 or s3a", uri)
	}
	if u.Host == "" {
		return s3Location{}, fmt.Errorf("invalid S3 URI %q: missing bucket", uri)
	}
	return s3Location{
		scheme: scheme,
		bucket: u.Host,
		key:    strings.TrimPrefix(u.Path, "/"),
	}, nil
}

// withKey returns the location of another key in the same bucket.
func (l s3Location) withKey(key string) string {
	return fmt.Sprintf("%s://%s/%s", l.scheme, l.bucket, key)
}

// Open returns a handle for the object at location.
func (s *S3FileIO) Open(ctx context.Context, location string) (InputFile, error) {
	loc, err := parseS3URI(location)
	if err != nil {
		return nil, err
	}
	return &s3InputFile{client: s.client, loc: loc, path: location}, nil
}

// Exists checks if a file exists.
func (s *S3FileIO) Exists(ctx context.Context, location string) (bool, error) {
	f, err := s.Open(ctx, location)
	if err != nil {
		return false, err
	}
	return f.Exists(ctx)
}

// Properties returns the properties of this FileIO.
func (s *S3FileIO) Properties() map[string]string {
	return s.properties
}

// ListFiles lists the objects directly under a prefix, treating "/" as the
// directory separator. Returned locations keep the scheme of the prefix.
func (s *S3FileIO) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	loc, err := parseS3URI(prefix)
	if err != nil {
		return nil, err
	}
	keyPrefix := loc.key
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}

	var files []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(loc.bucket),
		Prefix:    aws.String(keyPrefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Error("list", prefix, err)
		}
		for _, obj := range page.Contents {
			files = append(files, loc.withKey(aws.ToString(obj.Key)))
		}
	}
	return files, nil
}

// s3Error classifies an SDK error: missing objects and buckets match
// ErrNotFound.
func s3Error(op, location string, err error) error {
	var noKey *types.NoSuchKey
	var noObject *types.NotFound
	var noBucket *types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &noObject) || errors.As(err, &noBucket) {
		return notFound(op, location, err)
	}
	if s3Status(err) == http.StatusNotFound {
		return notFound(op, location, err)
	}
	return &IOError{Operation: op, Path: location, Cause: err}
}

func s3Status(err error) int {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

// s3InputFile implements InputFile for S3.
type s3InputFile struct {
	client *s3.Client
	loc    s3Location
	path   string
}

func (f *s3InputFile) Location() string {
	return f.path
}

func (f *s3InputFile) Exists(ctx context.Context) (bool, error) {
	_, err := f.Length(ctx)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *s3InputFile) Length(ctx context.Context) (int64, error) {
	resp, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.loc.bucket),
		Key:    aws.String(f.loc.key),
	})
	if err != nil {
		return 0, s3Error("head", f.path, err)
	}
	return aws.ToInt64(resp.ContentLength), nil
}

func (f *s3InputFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return f.get(ctx, nil)
}

// OpenRange issues a ranged GET. A range starting at or past the end of the
// object reads as empty instead of failing with 416.
func (f *s3InputFile) OpenRange(ctx context.Context, offset, length int64) (io.ReadCloser, error) {
	if length <= 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	rc, err := f.get(ctx, aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)))
	if err != nil && s3Status(err) == http.StatusRequestedRangeNotSatisfiable {
		return io.NopCloser(strings.NewReader("")), nil
	}
	return rc, err
}

func (f *s3InputFile) get(ctx context.Context, byteRange *string) (io.ReadCloser, error) {
	resp, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.loc.bucket),
		Key:    aws.String(f.loc.key),
		Range:  byteRange,
	})
	if err != nil {
		return nil, s3Error("get", f.path, err)
	}
	return resp.Body, nil
}

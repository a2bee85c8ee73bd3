// Package archive uploads finished recordings to S3-compatible object
// storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel/trace"

	"github.com/chandeldivyam/samwise/internal/observe"
)

// Config selects the destination bucket and, optionally, a non-AWS
// endpoint.
type Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool

	// AccessKeyID and SecretAccessKey, when both set, replace the default
	// credential chain.
	AccessKeyID     string
	SecretAccessKey string
}

// putter is the subset of *s3.Client used by the uploader.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads files to one bucket. It is safe for concurrent use.
type S3 struct {
	client putter
	bucket string
	prefix string
}

// New loads the AWS default configuration (environment, shared config,
// instance role) and returns an uploader for cfg.Bucket.
func New(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket must not be empty")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key returns the object key for recording id stored at localPath.
func (u *S3) Key(id, localPath string) string {
	return path.Join(strings.TrimSuffix(u.prefix, "/"), id+filepath.Ext(localPath))
}

// Archive uploads localPath and returns its s3:// URL.
func (u *S3) Archive(ctx context.Context, id, localPath string) (url string, err error) {
	ctx, span := observe.StartSpan(ctx, "archive.upload", trace.WithAttributes(observe.Attr("recording_id", id)))
	defer func() { observe.EndSpan(span, err) }()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}

	key := u.Key(id, localPath)
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType(localPath)),
		Metadata:      map[string]string{"recording-id": id},
	})
	if err != nil {
		return "", fmt.Errorf("archive: put s3://%s/%s: %w", u.bucket, key, err)
	}
	observe.Logger(ctx).Info("recording uploaded", "bucket", u.bucket, "key", key, "bytes", info.Size())
	return "s3://" + u.bucket + "/" + key, nil
}

// audioTypes covers the final formats, which the platform mime table may
// not know.
var audioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
}

func contentType(p string) string {
	ext := strings.ToLower(filepath.Ext(p))
	if t, ok := audioTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

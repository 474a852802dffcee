package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/audiolibrelab/singcapture/internal/capture"
	"github.com/audiolibrelab/singcapture/internal/config"
)

const defaultTTL = 10 * time.Minute

// ObjectStore is the part of the S3 client used for uploads.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Presigner signs download URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Publication is where a published recording can be fetched.
type Publication struct {
	Key       string
	URL       string
	ExpiresAt time.Time
}

// S3Publisher uploads finished recordings to an S3-compatible bucket and
// hands out time-limited download links.
type S3Publisher struct {
	bucket    string
	prefix    string
	ttl       time.Duration
	client    ObjectStore
	presigner Presigner
	now       func() time.Time
}

// NewS3Publisher connects to the bucket described by cfg. An endpoint
// selects an S3-compatible service with path-style addressing.
func NewS3Publisher(ctx context.Context, cfg config.S3Config) (*S3Publisher, error) {
	if !cfg.Enabled() {
		return nil, errors.New("export.s3.bucket is not set")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	slog.Debug("S3 export configured", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint, "region", cfg.Region)
	return NewPublisher(cfg, client, s3.NewPresignClient(client)), nil
}

// NewPublisher builds a publisher over explicit clients.
func NewPublisher(cfg config.S3Config, client ObjectStore, presigner Presigner) *S3Publisher {
	ttl := cfg.URLTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &S3Publisher{
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		ttl:       ttl,
		client:    client,
		presigner: presigner,
		now:       time.Now,
	}
}

// ObjectKey returns prefix/YYYY/MM/DD/<id>-<filename>.
func ObjectKey(prefix string, a *capture.Artifact, id string) string {
	day := a.CreatedAt.UTC().Format("2006/01/02")
	return path.Join(strings.Trim(prefix, "/"), day, id+"-"+a.Filename)
}

// Publish uploads the recording and its metadata sidecar, then signs a
// download URL for the recording.
func (p *S3Publisher) Publish(ctx context.Context, a *capture.Artifact) (Publication, error) {
	if a == nil || len(a.Data) == 0 {
		return Publication{}, errors.New("nothing to publish")
	}
	id := a.SessionID
	if id == "" {
		id = "recording"
	}
	key := ObjectKey(p.prefix, a, id)

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(p.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(a.Data),
		ContentType:        aws.String(a.MIME),
		ContentLength:      aws.Int64(int64(len(a.Data))),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", a.Filename)),
	})
	if err != nil {
		return Publication{}, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	if meta, err := a.Metadata(); err == nil {
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key + ".yaml"),
			Body:        bytes.NewReader(meta),
			ContentType: aws.String("application/yaml"),
		})
		if err != nil {
			slog.Warn("Metadata upload failed", "key", key, "error", err)
		}
	}

	signed, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return Publication{}, fmt.Errorf("failed to sign download URL: %w", err)
	}

	pub := Publication{Key: key, URL: signed.URL, ExpiresAt: p.now().Add(p.ttl)}
	slog.Info("Recording published", "key", key, "bytes", len(a.Data), "expires_at", pub.ExpiresAt)
	return pub, nil
}

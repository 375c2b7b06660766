package urlresolver

import (
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Config locates drawn and raw frames in a bucket.
type S3Config struct {
	Bucket       string
	Region       string
	Prefix       string
	Expiry       time.Duration
	DrawnSegment string
	RawSegment   string
	Placeholder  string
}

// S3Resolver hands out presigned GET URLs. Signing happens locally, there is no
// request to S3 per alert.
type S3Resolver struct {
	client *s3.S3
	cfg    S3Config
	logger *slog.Logger
}

// NewS3Resolver builds a resolver from the default AWS credential chain.
func NewS3Resolver(cfg S3Config, logger *slog.Logger) (*S3Resolver, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return NewS3ResolverWithClient(s3.New(sess), cfg, logger), nil
}

func NewS3ResolverWithClient(client *s3.S3, cfg S3Config, logger *slog.Logger) *S3Resolver {
	if cfg.Expiry <= 0 {
		cfg.Expiry = 24 * time.Hour
	}
	return &S3Resolver{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "S3Resolver"),
	}
}

func (r *S3Resolver) DrawnImageURL(p string) string {
	return r.presign(p)
}

func (r *S3Resolver) RawImageURL(p string) string {
	if r.cfg.DrawnSegment != "" && r.cfg.RawSegment != "" {
		p = replaceSegment(p, r.cfg.DrawnSegment, r.cfg.RawSegment)
	}
	return r.presign(p)
}

func (r *S3Resolver) presign(p string) string {
	if r.cfg.Bucket == "" {
		return r.placeholder()
	}
	key := path.Join(r.cfg.Prefix, p)
	req, _ := r.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(r.cfg.Bucket),
		Key:    aws.String(key),
	})
	u, err := req.Presign(r.cfg.Expiry)
	if err != nil {
		r.logger.Warn("Failed to presign image url, using placeholder", "key", key, "err", err)
		return r.placeholder()
	}
	return u
}

func (r *S3Resolver) placeholder() string {
	if r.cfg.Placeholder == "" {
		return DefaultPlaceholderURL
	}
	return r.cfg.Placeholder
}

// Package mirror copies finalized artifacts to S3.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"ourtube/internal/config"
	"ourtube/internal/errs"
	"ourtube/internal/observability"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	statusOK    = "ok"
	statusError = "error"

	partSize = 16 << 20
)

// Mirror uploads a published file.
type Mirror interface {
	Upload(ctx context.Context, path, name string) error
}

// Noop is the mirror used when no bucket is configured.
type Noop struct{}

// Upload does nothing.
func (Noop) Upload(context.Context, string, string) error { return nil }

// uploader is the subset of manager.Uploader used here.
type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 uploads artifacts with the multipart upload manager.
type S3 struct {
	log      *slog.Logger
	cfg      config.Mirror
	uploader uploader
	metrics  *observability.Metrics
}

// New returns Noop when mirroring is disabled, otherwise an S3 mirror using the
// default AWS credential chain with the configured profile and region.
func New(ctx context.Context, log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) (Mirror, error) {
	if !cfg.Mirror.Enabled() {
		return Noop{}, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
	}

	if cfg.Mirror.S3Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Mirror.S3Profile))
	}

	if cfg.Mirror.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Mirror.S3Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)

	return newS3(log, cfg.Mirror, manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
	}), metrics), nil
}

func newS3(log *slog.Logger, cfg config.Mirror, up uploader, metrics *observability.Metrics) *S3 {
	return &S3{
		log:      log.With(slog.String("package", "mirror"), slog.String("bucket", cfg.S3Bucket)),
		cfg:      cfg,
		uploader: up,
		metrics:  metrics,
	}
}

// Upload copies the file at path to <prefix><name> in the bucket.
func (m *S3) Upload(ctx context.Context, path, name string) error {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	err := m.upload(ctx, path, name)

	if m.metrics != nil {
		status := statusOK
		if err != nil {
			status = statusError
		}

		m.metrics.RecordMirrorUpload(status)
	}

	return err
}

func (m *S3) upload(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open: %w", errs.ErrMirrorFailed, err)
	}
	defer f.Close()

	key := Key(m.cfg.S3Prefix, name)

	input := &s3.PutObjectInput{
		Bucket: aws.String(m.cfg.S3Bucket),
		Key:    aws.String(key),
		Body:   f,
	}

	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	out, err := m.uploader.Upload(ctx, input)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrMirrorFailed, key, err)
	}

	m.log.InfoContext(ctx, "artifact mirrored", slog.String("key", key), slog.String("location", out.Location))

	return nil
}

// Key joins prefix and name with exactly one slash between them.
func Key(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}

	return prefix + "/" + name
}

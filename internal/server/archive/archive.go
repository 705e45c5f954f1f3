// Package archive uploads stored snapshot revisions to S3-compatible object
// storage under content-addressed keys.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/server/config"
	"github.com/iudanet/toolsync/internal/snapshot"
	"github.com/iudanet/toolsync/internal/validation"
)

// ObjectPutter is the part of the S3 client used for uploads.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// SnapshotSource reads stored revisions.
type SnapshotSource interface {
	GetCurrent(ctx context.Context, userID string) (*models.UserSnapshot, error)
	GetAtRevision(ctx context.Context, userID string, revision int64) (*models.UserSnapshot, error)
}

// Result описывает загруженный объект
type Result struct {
	Bucket   string
	Key      string
	SHA256   string
	Revision int64
	Size     int
}

// Archiver копирует ревизии из хранилища в бакет
type Archiver struct {
	putter ObjectPutter
	source SnapshotSource
	logger *slog.Logger
	bucket string
}

// NewArchiver creates an archiver writing to bucket.
func NewArchiver(logger *slog.Logger, source SnapshotSource, putter ObjectPutter, bucket string) *Archiver {
	return &Archiver{
		putter: putter,
		source: source,
		logger: logger,
		bucket: bucket,
	}
}

// NewS3Client builds an S3 client from the archive settings. Static
// credentials are used when both keys are set, otherwise the default AWS
// credential chain applies.
func NewS3Client(ctx context.Context, cfg config.ArchiveConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// ObjectKey returns users/<user>/revisions/<rev>-<sha256>.json.
func ObjectKey(userID string, revision int64, sum string) string {
	return fmt.Sprintf("users/%s/revisions/%d-%s.json", url.PathEscape(userID), revision, sum)
}

// ArchiveRevision uploads one revision. revision 0 means the live snapshot.
// Keys are content-addressed, so uploading the same revision twice writes
// the same object.
func (a *Archiver) ArchiveRevision(ctx context.Context, userID string, revision int64) (*Result, error) {
	userID, err := validation.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	if revision < 0 {
		return nil, errors.New("revision must not be negative")
	}

	var snap *models.UserSnapshot
	if revision == 0 {
		snap, err = a.source.GetCurrent(ctx, userID)
	} else {
		snap, err = a.source.GetAtRevision(ctx, userID, revision)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load revision: %w", err)
	}

	body := snapshot.CanonicalSnapshot(snap.ToolsData)
	sum := snapshot.HashSnapshot(snap.ToolsData)
	key := ObjectKey(userID, snap.ServerRevision, sum)

	_, err = a.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"user-id":         userID,
			"server-revision": strconv.FormatInt(snap.ServerRevision, 10),
			"updated-at-ms":   strconv.FormatInt(snap.UpdatedAtMs, 10),
			"sha256":          sum,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload revision %d: %w", snap.ServerRevision, err)
	}

	a.logger.Info("Revision archived",
		"user_id", userID,
		"server_revision", snap.ServerRevision,
		"bucket", a.bucket,
		"key", key,
		"bytes", len(body),
	)

	return &Result{
		Bucket:   a.bucket,
		Key:      key,
		SHA256:   sum,
		Revision: snap.ServerRevision,
		Size:     len(body),
	}, nil
}

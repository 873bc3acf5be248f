// Package archive keeps a durable copy of every resolution outcome in object
// storage, independent of the record store's own persistence.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/lifeadmin/commitd/internal/models"
)

// Archiver stores a resolved commitment's final record.
type Archiver interface {
	ArchiveResolution(ctx context.Context, c models.Commitment) error
}

// S3Archiver writes resolution envelopes to:
//
//	s3://<bucket>/<prefix>/resolutions/YYYY/MM/DD/<id>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver picks up region and credentials from the environment
// (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET, etc.).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

func (a *S3Archiver) ArchiveResolution(ctx context.Context, c models.Commitment) error {
	if !c.Status.Terminal() {
		return fmt.Errorf("archive: commitment %s not resolved", c.ID)
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode resolution: %w", err)
	}
	ts := time.Now().UTC()
	if c.ResolvedAt != nil {
		ts = c.ResolvedAt.UTC()
	}
	year, month, day := ts.Date()
	key := path.Join(a.prefix, "resolutions",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", c.ID),
	)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload resolution: %w", err)
	}
	return nil
}

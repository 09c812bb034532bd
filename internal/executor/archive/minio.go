package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/pathrunner/internal/executor/core"
	"github.com/autopeer-io/pathrunner/internal/executor/core/model"
	"github.com/autopeer-io/pathrunner/pkg/log"
	"github.com/autopeer-io/pathrunner/pkg/options"
)

var _ core.Archiver = (*MinIOArchiver)(nil)

// MinIOArchiver writes execution reports to an S3 compatible bucket.
type MinIOArchiver struct {
	client     *minio.Client
	bucketName string
}

// NewMinIOArchiver creates an archiver from S3 options. No request is made
// until CheckBucket or Archive is called.
func NewMinIOArchiver(opts *options.S3Options) (*MinIOArchiver, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.UseSSL},
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Region:    opts.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &MinIOArchiver{
		client:     client,
		bucketName: opts.BucketName,
	}, nil
}

// CheckBucket creates the bucket when it is missing.
func (a *MinIOArchiver) CheckBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Bucket does not exist, creating...", "bucket", a.bucketName)
		if err := a.client.MakeBucket(ctx, a.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

func (a *MinIOArchiver) Archive(ctx context.Context, report *model.Report) error {
	data, err := EncodeReport(report)
	if err != nil {
		return err
	}

	key := ObjectKey(report.Execution.ID)
	_, err = a.client.PutObject(ctx, a.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", key, err)
	}
	return nil
}

// ReportURL returns a temporary download link for an archived report.
func (a *MinIOArchiver) ReportURL(ctx context.Context, executionID string, expiry time.Duration) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucketName, ObjectKey(executionID), expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return u.String(), nil
}

// ObjectKey is the bucket key of an execution's report.
func ObjectKey(executionID string) string {
	return "executions/" + executionID + ".json"
}

// EncodeReport renders the report document.
func EncodeReport(report *model.Report) ([]byte, error) {
	if report == nil || report.Execution == nil {
		return nil, fmt.Errorf("report has no execution")
	}
	if report.ArchivedAt.IsZero() {
		report.ArchivedAt = time.Now().UTC()
	}
	if report.Events == nil {
		report.Events = []model.Event{}
	}
	return json.MarshalIndent(report, "", "  ")
}

// Package objectstorage archives raw billing API payloads to an S3-compatible
// bucket, partitioned by metering date.
package objectstorage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"ke-billing/domain/billing"
	dconfig "ke-billing/domain/config"
)

// Archive uploads JSON documents to one bucket.
type Archive struct {
	api    s3iface.S3API
	bucket string
	now    func() time.Time
}

// New creates an archive client for the configured endpoint. Object storage
// gateways need path-style addressing.
func New(cfg dconfig.ObjectStorage) (*Archive, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage session: %w", err)
	}
	return NewWithAPI(s3.New(sess), cfg.Bucket), nil
}

// NewWithAPI wraps an existing S3 client.
func NewWithAPI(api s3iface.S3API, bucket string) *Archive {
	return &Archive{api: api, bucket: bucket, now: time.Now}
}

// ArchiveKey returns raw/year=YYYY/month=MM/day=DD/billing_YYYYMMDD.json for date (YYYYMMDD).
func ArchiveKey(date string) (string, error) {
	if !billing.ValidDate(date) {
		return "", fmt.Errorf("invalid archive date %q", date)
	}
	return fmt.Sprintf("raw/year=%s/month=%s/day=%s/billing_%s.json", date[:4], date[4:6], date[6:8], date), nil
}

// UploadJSON stores data under the archive key of date with a _metadata object
// holding metadata and the upload time. It returns the object key.
func (a *Archive) UploadJSON(ctx context.Context, data map[string]any, date string, metadata map[string]any) (string, error) {
	key, err := ArchiveKey(date)
	if err != nil {
		return "", err
	}

	meta := make(map[string]any, len(metadata)+1)
	maps.Copy(meta, metadata)
	meta["uploadedAt"] = a.now().UTC().Format(time.RFC3339)

	doc := make(map[string]any, len(data)+1)
	maps.Copy(doc, data)
	doc["_metadata"] = meta

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode archive %s: %w", key, err)
	}

	_, err = a.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/json; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}

// BucketExists reports whether the bucket is reachable with the configured credentials.
func (a *Archive) BucketExists(ctx context.Context) (bool, error) {
	_, err := a.api.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return true, nil
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchBucket || aerr.Code() == "NotFound") {
		return false, nil
	}
	return false, fmt.Errorf("head bucket %s: %w", a.bucket, err)
}

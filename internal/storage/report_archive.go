package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/inaiurai/imagegen/internal/models"
)

type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Prefix       string
}

// ObjectPutter is the subset of *s3.Client used by the archive.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ReportArchive writes weekly reports to an S3-compatible bucket as JSON.
type ReportArchive struct {
	bucket string
	prefix string
	client ObjectPutter
}

func NewReportArchive(cfg Config) (*ReportArchive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return NewReportArchiveWithClient(s3.New(options), cfg.Bucket, cfg.Prefix), nil
}

func NewReportArchiveWithClient(client ObjectPutter, bucket, prefix string) *ReportArchive {
	if prefix == "" {
		prefix = "reports"
	}
	return &ReportArchive{bucket: bucket, prefix: prefix, client: client}
}

// Archive uploads rep under <prefix>/<week_start>.json. Re-archiving a week
// overwrites the same key.
func (a *ReportArchive) Archive(ctx context.Context, rep *models.Report) error {
	body, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(rep)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload report to s3: %w", err)
	}
	return nil
}

func (a *ReportArchive) Key(rep *models.Report) string {
	return path.Join(strings.Trim(a.prefix, "/"), rep.WeekStart.UTC().Format("2006-01-02")+".json")
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/exchangeset/orchestrator/internal/config"
	"github.com/exchangeset/orchestrator/internal/model"
)

const batchManifestName = "batch.json"

// s3API is the subset of the S3 client the batch store needs
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// BatchRecord is the manifest the S3 store keeps next to a batch's files
type BatchRecord struct {
	BatchID       string             `json:"batchId"`
	BusinessUnit  string             `json:"businessUnit"`
	DataStandard  model.DataStandard `json:"dataStandard"`
	CorrelationID string             `json:"correlationId"`
	Status        string             `json:"status"`
	Files         []string           `json:"files"`
	CreatedAt     time.Time          `json:"createdAt"`
	CommittedAt   *time.Time         `json:"committedAt,omitempty"`
	ExpiryDate    *time.Time         `json:"expiryDate,omitempty"`
}

// S3BatchStore stages batches directly in an S3 compatible bucket, for
// deployments without a file share service.
// Layout: <prefix>/<batchId>/batch.json and <prefix>/<batchId>/files/<name>.
type S3BatchStore struct {
	s3Client     s3API
	bucketName   string
	prefix       string
	businessUnit string
	now          func() time.Time
}

// NewS3BatchStore creates a batch store from S3 configuration
func NewS3BatchStore(cfg *config.S3Config, businessUnit string) (*S3BatchStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 configuration incomplete")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newS3BatchStore(s3Client, cfg.Bucket, cfg.Prefix, businessUnit), nil
}

func newS3BatchStore(api s3API, bucket, prefix, businessUnit string) *S3BatchStore {
	return &S3BatchStore{
		s3Client:     api,
		bucketName:   bucket,
		prefix:       strings.Trim(prefix, "/"),
		businessUnit: businessUnit,
		now:          time.Now,
	}
}

func (s *S3BatchStore) key(parts ...string) string {
	return path.Join(append([]string{s.prefix}, parts...)...)
}

// listPrefix matches every key written by key
func (s *S3BatchStore) listPrefix() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

// CreateBatch writes an open batch manifest and returns the new batch id
func (s *S3BatchStore) CreateBatch(ctx context.Context, correlationID string, standard model.DataStandard) (string, error) {
	record := &BatchRecord{
		BatchID:       uuid.New().String(),
		BusinessUnit:  s.businessUnit,
		DataStandard:  standard,
		CorrelationID: correlationID,
		Status:        BatchStatusOpen,
		Files:         []string{},
		CreatedAt:     s.now().UTC(),
	}
	if err := s.putRecord(ctx, record); err != nil {
		return "", fmt.Errorf("failed to create batch: %w", err)
	}
	return record.BatchID, nil
}

// AddFileToBatch uploads a file under the batch and records it in the manifest
func (s *S3BatchStore) AddFileToBatch(ctx context.Context, batchID string, content io.Reader, name, contentType string) error {
	record, err := s.getRecord(ctx, batchID)
	if err != nil {
		return err
	}
	if record.Status != BatchStatusOpen {
		return fmt.Errorf("batch %s is %s", batchID, record.Status)
	}

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.key(batchID, "files", name)),
		Body:        content,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", name, err)
	}

	record.Files = append(record.Files, name)
	return s.putRecord(ctx, record)
}

// CommitBatch marks the batch committed
func (s *S3BatchStore) CommitBatch(ctx context.Context, batchID string) error {
	record, err := s.getRecord(ctx, batchID)
	if err != nil {
		return err
	}
	if record.Status == BatchStatusCommitted {
		return nil
	}
	now := s.now().UTC()
	record.Status = BatchStatusCommitted
	record.CommittedAt = &now
	return s.putRecord(ctx, record)
}

// SearchCommittedBatches lists committed, unexpired batches of a standard
func (s *S3BatchStore) SearchCommittedBatches(ctx context.Context, standard model.DataStandard, excludeBatchID string) ([]string, error) {
	var ids []string
	now := s.now()
	paginator := s3.NewListObjectsV2Paginator(s.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketName),
		Prefix: aws.String(s.listPrefix()),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list batches: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if path.Base(key) != batchManifestName {
				continue
			}
			batchID := path.Base(path.Dir(key))
			if batchID == excludeBatchID {
				continue
			}
			record, err := s.getRecord(ctx, batchID)
			if err != nil {
				return nil, err
			}
			if record.Status != BatchStatusCommitted || record.DataStandard != standard {
				continue
			}
			if record.ExpiryDate != nil && !record.ExpiryDate.After(now) {
				continue
			}
			ids = append(ids, batchID)
		}
	}
	return ids, nil
}

// SetExpiryDate writes the expiry into each batch manifest
func (s *S3BatchStore) SetExpiryDate(ctx context.Context, batchIDs []string, expiry time.Time) error {
	for _, id := range batchIDs {
		record, err := s.getRecord(ctx, id)
		if err != nil {
			return err
		}
		e := expiry.UTC()
		record.ExpiryDate = &e
		if err := s.putRecord(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// IsConfigured returns true if the store has a bucket
func (s *S3BatchStore) IsConfigured() bool {
	return s.s3Client != nil && s.bucketName != ""
}

func (s *S3BatchStore) putRecord(ctx context.Context, record *BatchRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal batch manifest: %w", err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(s.key(record.BatchID, batchManifestName)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to write batch manifest: %w", err)
	}
	return nil
}

func (s *S3BatchStore) getRecord(ctx context.Context, batchID string) (*BatchRecord, error) {
	out, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(s.key(batchID, batchManifestName)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("batch %s not found", batchID)
		}
		return nil, fmt.Errorf("failed to read batch manifest: %w", err)
	}
	defer out.Body.Close()

	var record BatchRecord
	if err := json.NewDecoder(out.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode batch manifest: %w", err)
	}
	return &record, nil
}

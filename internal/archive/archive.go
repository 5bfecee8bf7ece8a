// Package archive keeps summaries of finished multi-tenant batches in
// object storage for analytics after the live documents age out.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/ignite/campaign-engine/internal/domain"
)

// ErrNotArchived is returned when no summary exists for a batch.
var ErrNotArchived = errors.New("batch summary not archived")

// Summary is the archived form of a finished batch.
type Summary struct {
	Batch           *domain.MultiTenantBatch `json:"batch"`
	CampaignBatches []*domain.CampaignBatch  `json:"campaign_batches,omitempty"`
	ArchivedAt      time.Time                `json:"archived_at"`
}

// Key is the object key of a batch's summary.
func Key(prefix, batchID string) string {
	if prefix == "" {
		return fmt.Sprintf("batches/%s/summary.json", batchID)
	}
	return fmt.Sprintf("%s/batches/%s/summary.json", prefix, batchID)
}

// S3API is the part of the S3 client the archive uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Archive writes summaries as JSON objects.
type S3Archive struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Archive loads AWS config for region (and profile, when set).
func NewS3Archive(ctx context.Context, bucket, prefix, region, profile string) (*S3Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewS3ArchiveWithClient(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// NewS3ArchiveWithClient uses an existing client.
func NewS3ArchiveWithClient(client S3API, bucket, prefix string) *S3Archive {
	return &S3Archive{client: client, bucket: bucket, prefix: prefix}
}

// ArchiveBatch stores s, overwriting any earlier summary of the same batch.
func (a *S3Archive) ArchiveBatch(ctx context.Context, s Summary) error {
	if s.Batch == nil {
		return errors.New("archive: summary has no batch")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(Key(a.prefix, s.Batch.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}
	return nil
}

// GetBatch reads back an archived summary.
func (a *S3Archive) GetBatch(ctx context.Context, batchID string) (*Summary, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(Key(a.prefix, batchID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotArchived, batchID)
		}
		return nil, fmt.Errorf("getting object from S3: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshaling S3 data: %w", err)
	}
	return &s, nil
}

// Memory keeps summaries in process.
type Memory struct {
	mu    sync.Mutex
	items map[string][]byte
}

// NewMemory creates an empty archive.
func NewMemory() *Memory { return &Memory{items: map[string][]byte{}} }

// ArchiveBatch stores s.
func (m *Memory) ArchiveBatch(_ context.Context, s Summary) error {
	if s.Batch == nil {
		return errors.New("archive: summary has no batch")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.items[s.Batch.ID] = data
	m.mu.Unlock()
	return nil
}

// GetBatch returns a stored summary.
func (m *Memory) GetBatch(_ context.Context, batchID string) (*Summary, error) {
	m.mu.Lock()
	data, ok := m.items[batchID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotArchived, batchID)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

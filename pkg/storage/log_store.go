package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// LogEntry is the captured output of one task.
type LogEntry struct {
	ExecutionID uuid.UUID
	TaskName    string
	Stdout      []byte
	Stderr      []byte
}

// Bytes renders the archived form of the entry.
func (e LogEntry) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "TASK: %s (%s)\n", e.TaskName, e.ExecutionID)
	b.WriteString("STDOUT:\n")
	b.Write(e.Stdout)
	b.WriteString("\nSTDERR:\n")
	b.Write(e.Stderr)
	return b.Bytes()
}

func (e LogEntry) fileName() string {
	return e.TaskName + "-" + e.ExecutionID.String() + ".log"
}

// LogStore archives task output and returns a reference to it.
type LogStore interface {
	Store(ctx context.Context, entry LogEntry) (string, error)
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3LogStore stores logs in S3-compatible storage
type S3LogStore struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3LogStoreConfig holds S3 configuration
type S3LogStoreConfig struct {
	Bucket          string
	Prefix          string // e.g., "stagerun/logs/"
	Region          string
	Endpoint        string // For MinIO/local S3
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3LogStore creates a new S3-backed log store
func NewS3LogStore(ctx context.Context, cfg S3LogStoreConfig) (*S3LogStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	}

	return &S3LogStore{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store uploads the entry and returns an s3:// reference.
func (s *S3LogStore) Store(ctx context.Context, entry LogEntry) (string, error) {
	key := s.prefix + time.Now().UTC().Format("2006/01/02") + "/" + entry.fileName()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(entry.Bytes()),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload logs to S3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Retrieve fetches logs from S3
func (s *S3LogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	bucket, key, ok := splitS3Reference(reference)
	if !ok {
		bucket, key = s.bucket, reference
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get logs from S3: %w", err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return data, nil
}

func splitS3Reference(ref string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(ref, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(rest, "/")
	return bucket, key, ok
}

// LocalLogStore stores logs on local filesystem (for development/single-node)
type LocalLogStore struct {
	basePath string
}

// NewLocalLogStore creates a local filesystem log store
func NewLocalLogStore(basePath string) (*LocalLogStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &LocalLogStore{basePath: basePath}, nil
}

// Store writes the entry under the base path and returns the file path.
func (l *LocalLogStore) Store(ctx context.Context, entry LogEntry) (string, error) {
	p := filepath.Join(l.basePath, entry.fileName())
	if err := os.WriteFile(p, entry.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write logs: %w", err)
	}
	return p, nil
}

// Retrieve fetches logs from local filesystem
func (l *LocalLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	data, err := os.ReadFile(reference)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

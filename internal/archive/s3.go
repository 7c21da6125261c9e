package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"CoopLedger/internal/config"
	"CoopLedger/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive keeps a copy of every uploaded sheet, named by its fingerprint
// so a re-upload of the same file lands on the same object.
type S3Archive struct {
	client  putter
	bucket  string
	prefix  string
	baseURL string
}

func NewS3Archive(ctx context.Context, cfg config.ArchiveConfig) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Archive{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		baseURL: cfg.BaseURL,
	}, nil
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitize(s string) string {
	s = unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "unknown"
	}
	return s
}

// Key is <prefix><kind>/<period>/<hash><ext>.
func (a *S3Archive) Key(kind models.RunKind, periodID int64, fileName, hash string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("%s%s/%d/%s%s", a.prefix, sanitize(string(kind)), periodID, sanitize(hash), ext)
}

// Put uploads data and returns the object's URL.
func (a *S3Archive) Put(ctx context.Context, kind models.RunKind, periodID int64, fileName, hash string, data []byte) (string, error) {
	key := a.Key(kind, periodID, fileName, hash)
	contentType := "application/octet-stream"
	if len(data) > 0 {
		contentType = http.DetectContentType(data[:min(len(data), 512)])
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"original-name": sanitize(filepath.Base(fileName))},
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3 (bucket %s, key %s): %w", a.bucket, key, err)
	}
	return a.baseURL + key, nil
}

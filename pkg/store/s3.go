package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// expiresAtKey is the object metadata key carrying the session expiry,
// as Unix seconds. S3 has no per-object TTL, so expiry is enforced on Load
// (and by an optional bucket lifecycle rule for physical cleanup).
const expiresAtKey = "syncline-expires-at"

// S3Store persists sessions as objects in an S3 bucket. Suitable for
// deployments that already run on S3 and want restart durability without
// an extra datastore.
//
// Example:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	st := store.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "sessions/")
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	closed atomic.Bool
}

// NewS3Store creates an S3-backed session store.
func NewS3Store(client *s3.Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *S3Store) key(token string) string {
	return s.prefix + token
}

// Save writes the session snapshot object.
func (s *S3Store) Save(ctx context.Context, token string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(token)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			expiresAtKey: strconv.FormatInt(expiresAt.Unix(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("store: s3 save %s: %w", token, err)
	}
	return nil
}

// Load reads a session snapshot, or (nil, nil) if absent or expired.
func (s *S3Store) Load(ctx context.Context, token string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(token)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: s3 load %s: %w", token, err)
	}
	defer out.Body.Close()

	if expired(out.Metadata) {
		return nil, nil
	}

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("store: s3 read %s: %w", token, err)
	}
	return data, nil
}

// Delete removes a session object. S3 deletes are idempotent.
func (s *S3Store) Delete(ctx context.Context, token string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(token)),
	})
	if err != nil {
		return fmt.Errorf("store: s3 delete %s: %w", token, err)
	}
	return nil
}

// Touch rewrites the object's expiry metadata via a self-copy.
func (s *S3Store) Touch(ctx context.Context, token string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	key := s.key(token)
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(s.bucket + "/" + key),
		MetadataDirective: types.MetadataDirectiveReplace,
		Metadata: map[string]string{
			expiresAtKey: strconv.FormatInt(expiresAt.Unix(), 10),
		},
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil
		}
		return fmt.Errorf("store: s3 touch %s: %w", token, err)
	}
	return nil
}

// SaveAll writes sessions sequentially; S3 has no multi-object atomicity.
func (s *S3Store) SaveAll(ctx context.Context, sessions map[string]Record) error {
	for token, rec := range sessions {
		if err := s.Save(ctx, token, rec.Data, rec.ExpiresAt); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the store closed. The S3 client itself holds no resources
// needing release.
func (s *S3Store) Close() error {
	s.closed.Store(true)
	return nil
}

func expired(metadata map[string]string) bool {
	raw, ok := metadata[expiresAtKey]
	if !ok {
		return false
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return time.Now().After(time.Unix(sec, 0))
}

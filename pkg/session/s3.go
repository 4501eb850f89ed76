package session

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

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// expiresMetaKey is the object metadata key holding the Unix-millisecond expiry.
const expiresMetaKey = "liveview-expires-at"

// S3Store keeps one object per session in a bucket. S3 has no per-object
// TTL, so expiry travels in object metadata and is checked on Load; a
// bucket lifecycle rule should clean up leftovers.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	closed atomic.Bool
	now    func() time.Time
}

// NewS3Store creates a store writing objects under prefix in bucket.
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *S3Store) key(id string) string {
	return s.prefix + id + ".json"
}

// Save implements Store.
func (s *S3Store) Save(ctx context.Context, id string, data []byte, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			expiresMetaKey: strconv.FormatInt(expiresAt.UnixMilli(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("session: s3 put %s: %w", id, err)
	}
	return nil
}

// Load implements Store.
func (s *S3Store) Load(ctx context.Context, id string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	data, expiresAt, err := s.get(ctx, id)
	if err != nil || data == nil {
		return nil, err
	}
	if !s.now().Before(expiresAt) {
		return nil, nil
	}
	return data, nil
}

func (s *S3Store) get(ctx context.Context, id string) ([]byte, time.Time, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("session: s3 get %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session: s3 read %s: %w", id, err)
	}
	ms, err := strconv.ParseInt(out.Metadata[expiresMetaKey], 10, 64)
	if err != nil {
		// Objects without a readable expiry are treated as expired.
		return data, time.Time{}, nil
	}
	return data, time.UnixMilli(ms), nil
}

// Delete implements Store.
func (s *S3Store) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("session: s3 delete %s: %w", id, err)
	}
	return nil
}

// Touch implements Store by rewriting the object with a new expiry.
func (s *S3Store) Touch(ctx context.Context, id string, expiresAt time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, _, err := s.get(ctx, id)
	if err != nil || data == nil {
		return err
	}
	return s.Save(ctx, id, data, expiresAt)
}

// SaveAll implements Store. Objects are written one by one; S3 offers no
// multi-object transaction.
func (s *S3Store) SaveAll(ctx context.Context, entries map[string]Entry) error {
	var errs []error
	for id, e := range entries {
		if err := s.Save(ctx, id, e.Data, e.ExpiresAt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close marks the store closed.
func (s *S3Store) Close() error {
	s.closed.Store(true)
	return nil
}

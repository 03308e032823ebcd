package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Publisher uploads re-encoded audio and returns its public pull URL.
type Publisher interface {
	PublishAudio(ctx context.Context, key string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}

// MinioPublisher implements Publisher against MinIO/S3 compatible storage
// fronted by a public pull host (CDN). Objects are named audio_<key>.mp3 and
// the pull URL is the pull base joined with that filename.
type MinioPublisher struct {
	client   *minio.Client
	bucket   string
	pullBase string
}

// NewMinioPublisher connects to the storage endpoint and ensures the bucket
// exists.
func NewMinioPublisher(endpoint, accessKey, secretKey, bucket, pullBase string, useSSL bool) (*MinioPublisher, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioPublisher{
		client:   client,
		bucket:   bucket,
		pullBase: strings.TrimRight(pullBase, "/"),
	}, nil
}

// AudioFilename returns the deterministic object name for a key.
func AudioFilename(key string) string {
	return fmt.Sprintf("audio_%s.mp3", key)
}

// PublishAudio uploads the bytes and returns the pull URL.
func (p *MinioPublisher) PublishAudio(ctx context.Context, key string, data []byte) (string, error) {
	filename := AudioFilename(key)
	_, err := p.client.PutObject(ctx, p.bucket, filename, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "audio/mpeg",
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return p.pullBase + "/" + filename, nil
}

// Delete removes a previously published object.
func (p *MinioPublisher) Delete(ctx context.Context, key string) error {
	if err := p.client.RemoveObject(ctx, p.bucket, AudioFilename(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

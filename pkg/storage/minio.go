// Package storage is the durable object store for finished recordings.
package storage

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"
)

type Object struct {
	Key  string
	URL  string
	Size int64
}

type Minio struct {
	client *minio.Client
	bucket string
}

func NewMinio(client *minio.Client, bucket string) *Minio {
	return &Minio{client: client, bucket: bucket}
}

func (m *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	zerolog.Ctx(ctx).Info().Str("bucket", m.bucket).Msg("creating bucket")
	return m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{})
}

// Exists reports whether key is present. A missing key is not an error.
func (m *Minio) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (m *Minio) Put(ctx context.Context, localPath, key, contentType string) (Object, error) {
	info, err := m.client.FPutObject(ctx, m.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: m.URL(key), Size: info.Size}, nil
}

func (m *Minio) Get(ctx context.Context, key, localPath string) error {
	return m.client.FGetObject(ctx, m.bucket, key, localPath, minio.GetObjectOptions{})
}

func (m *Minio) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// URL is the stable, unsigned location of key.
func (m *Minio) URL(key string) string {
	endpoint := m.client.EndpointURL()
	return strings.TrimRight(endpoint.String(), "/") + "/" + m.bucket + "/" + strings.TrimLeft(key, "/")
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return true
	}
	return false
}

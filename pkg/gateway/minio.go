package gateway

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
)

// MinioBlobStore keeps report media in one bucket. Public URLs are built
// from publicBase, which should point at the bucket root.
type MinioBlobStore struct {
	client     *minio.Client
	bucket     string
	publicBase string
}

func NewMinioBlobStore(client *minio.Client, bucket, publicBase string) *MinioBlobStore {
	if publicBase == "" {
		publicBase = client.EndpointURL().String() + "/" + bucket
	}
	return &MinioBlobStore{client: client, bucket: bucket, publicBase: strings.TrimRight(publicBase, "/")}
}

func (m *MinioBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		names = append(names, obj.Key)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MinioBlobStore) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, name, r, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "max-age=3600",
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func (m *MinioBlobStore) Remove(ctx context.Context, names []string) error {
	objects := make(chan minio.ObjectInfo, len(names))
	for _, n := range names {
		objects <- minio.ObjectInfo{Key: n}
	}
	close(objects)

	for res := range m.client.RemoveObjects(ctx, m.bucket, objects, minio.RemoveObjectsOptions{}) {
		if res.Err != nil {
			return fmt.Errorf("remove %s: %w", res.ObjectName, res.Err)
		}
	}
	return nil
}

func (m *MinioBlobStore) PublicURL(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return m.publicBase + "/" + strings.Join(parts, "/")
}

//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/cloo-solutions/chimera/internal/domain"
	"github.com/cloo-solutions/chimera/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupS3(t *testing.T) *S3Client {
	t.Helper()
	ctx := context.Background()
	rc := testutil.StartRustFS(ctx, t)

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     rc.AccessKey,
		SecretAccessKey: rc.SecretKey,
		Bucket:          "chimera-test",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	return client
}

func TestS3Client_PutGet(t *testing.T) {
	ctx := context.Background()
	client := setupS3(t)

	require.NoError(t, client.PutObject(ctx, "kb1/guide.md", "text/markdown", []byte("# Guide\n\nHello")))

	obj, err := client.GetObject(ctx, "kb1/guide.md")
	require.NoError(t, err)
	assert.Equal(t, "# Guide\n\nHello", string(obj.Body))
	assert.Equal(t, "text/markdown", obj.ContentType)
	assert.NotEmpty(t, obj.ETag)
}

func TestS3Client_GetMissing(t *testing.T) {
	client := setupS3(t)

	_, err := client.GetObject(context.Background(), "nope.md")
	assert.ErrorIs(t, err, domain.ErrObjectNotFound)
}

func TestS3Client_GenerateUploadURL(t *testing.T) {
	client := setupS3(t)

	url, err := client.GenerateUploadURL(context.Background(), "kb1/new.md", "text/markdown")
	require.NoError(t, err)
	assert.Contains(t, url, "kb1/new.md")
}

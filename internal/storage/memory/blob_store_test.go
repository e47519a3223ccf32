package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Object("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "text/html", contentType)

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}

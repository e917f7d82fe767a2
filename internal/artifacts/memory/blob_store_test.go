package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore("forensics")
	uri, err := store.PutObject(context.Background(), "job-1/1.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://forensics/job-1/1.html", uri)

	obj, ok := store.Get("forensics/job-1/1.html")
	require.True(t, ok)
	require.Equal(t, "text/html", obj.ContentType)
	require.Equal(t, "<html></html>", string(obj.Data))
	require.Equal(t, []string{"forensics/job-1/1.html"}, store.Keys())

	_, err = store.PutObject(context.Background(), "", "text/plain", strings.NewReader("x"))
	require.Error(t, err)
}

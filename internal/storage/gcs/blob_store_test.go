package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = New(client, Config{Bucket: "  "})
	require.ErrorContains(t, err, "bucket name is required")

	store, err := New(client, Config{Bucket: "captures"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "application/json", []byte("{}"))
	require.ErrorContains(t, err, "path is required")
}

func newFakeGCS(t *testing.T, status int) (*storage.Client, *[]string) {
	t.Helper()
	var names []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.Contains(r.URL.Path, "/b/captures/o") {
			http.NotFound(w, r)
			return
		}
		require.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))
		_, _ = io.Copy(io.Discard, r.Body)
		name := r.URL.Query().Get("name")
		names = append(names, name)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"code":412,"message":"At least one of the pre-conditions you specified did not hold."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"bucket":"captures","name":"` + name + `","size":"2"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, &names
}

func TestPutObjectUploadsOnce(t *testing.T) {
	t.Parallel()

	client, names := newFakeGCS(t, http.StatusOK)
	store, err := New(client, Config{Bucket: "captures"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "/payloads/gerrit/a.json", "application/json", []byte("{}"))
	require.NoError(t, err)
	require.Equal(t, "gs://captures/payloads/gerrit/a.json", uri)
	require.Equal(t, []string{"payloads/gerrit/a.json"}, *names)
}

func TestPutObjectExisting(t *testing.T) {
	t.Parallel()

	client, _ := newFakeGCS(t, http.StatusPreconditionFailed)
	store, err := New(client, Config{Bucket: "captures"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "payloads/x.json", "", []byte("{}"))
	require.ErrorIs(t, err, ErrExists)
}

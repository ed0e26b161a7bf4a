package httpx

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseJSONShallowSkipsNested(t *testing.T) {
	req := NewRequest("1.2.3.4")
	req.body = []byte(`{"name":"alice","age":30,"tags":["a","b"],"meta":{"x":1}}`)

	perr := parseJSONShallow(req)
	require.Nil(t, perr)
	require.Equal(t, "alice", req.Params["name"])
	require.Equal(t, "30", req.Params["age"])
	require.NotContains(t, req.Params, "tags")
	require.NotContains(t, req.Params, "meta")
}

func TestParseJSONShallowEmptyBody(t *testing.T) {
	req := NewRequest("1.2.3.4")
	req.body = []byte("")
	perr := parseJSONShallow(req)
	require.Nil(t, perr)
}

func TestParseJSONShallowRejectsNonObject(t *testing.T) {
	req := NewRequest("1.2.3.4")
	req.body = []byte(`["a","b"]`)
	perr := parseJSONShallow(req)
	require.NotNil(t, perr)
}

func TestParseURLEncoded(t *testing.T) {
	req := NewRequest("1.2.3.4")
	req.body = []byte("username=admin&password=a%26b")
	perr := parseURLEncoded(req)
	require.Nil(t, perr)
	require.Equal(t, "admin", req.Params["username"])
	require.Equal(t, "a&b", req.Params["password"])
}

func TestParseMultipartExtractsFieldsAndBlob(t *testing.T) {
	dir := t.TempDir()
	BlobDir = dir
	defer func() { BlobDir = "/var/blobs" }()

	boundary := "XYZ"
	body := fmt.Sprintf(
		"--%s\r\nContent-Disposition: form-data; name=\"descrip\"\r\n\r\nhello\r\n"+
			"--%s\r\nContent-Disposition: form-data; name=\"file\"; filename=\"a.txt\"\r\nContent-Type: text/plain\r\n\r\nfile-content\r\n"+
			"--%s--\r\n",
		boundary, boundary, boundary)

	req := NewRequest("1.2.3.4")
	req.Boundary = boundary
	req.body = []byte(body)

	perr := parseMultipart(req)
	require.Nil(t, perr)
	require.Equal(t, "hello", req.Params["descrip"])
	require.Equal(t, "a.txt", req.Params["file_filename"])
	require.Equal(t, "text/plain", req.Params["file_contenttype"])
	require.Len(t, req.Blobs, 1)

	written, err := os.ReadFile(filepath.Join(dir, req.Params["file"]))
	require.NoError(t, err)
	require.Equal(t, "file-content", string(written))
}

func TestCleanupBlobsRemovesFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blob1")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	req := NewRequest("1.2.3.4")
	req.AddBlob(path)
	req.CleanupBlobs()

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Empty(t, req.Blobs)
}

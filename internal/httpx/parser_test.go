package httpx

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryParseIncompleteWithoutHeaderTerminator(t *testing.T) {
	req, complete, _, perr := TryParse([]byte("GET /api/ping HTTP/1.1\r\nHost: x"), "1.2.3.4")
	require.Nil(t, req)
	require.False(t, complete)
	require.Nil(t, perr)
}

func TestTryParseCompleteGetRequest(t *testing.T) {
	raw := "GET /api/ping?x=1 HTTP/1.1\r\nHost: example.com\r\nOrigin: https://example.com\r\nX-Request-Id: r-1\r\n\r\n"
	req, complete, consumed, perr := TryParse([]byte(raw), "1.2.3.4")
	require.Nil(t, perr)
	require.True(t, complete)
	require.Equal(t, len(raw), consumed)
	require.Equal(t, MethodGet, req.Method)
	require.Equal(t, "/api/ping", req.Path)
	require.Equal(t, "x=1", req.Query)
	require.Equal(t, "https://example.com", req.Origin)
	require.Equal(t, "r-1", req.XRequestID)
}

func TestTryParseWaitsForFullBody(t *testing.T) {
	body := "username=admin&password=admin"
	headers := fmt.Sprintf("POST /api/login HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: %d\r\n\r\n", len(body))
	partial := headers + body[:10]

	req, complete, _, perr := TryParse([]byte(partial), "1.2.3.4")
	require.Nil(t, req)
	require.False(t, complete)
	require.Nil(t, perr)

	full := headers + body
	req, complete, consumed, perr := TryParse([]byte(full), "1.2.3.4")
	require.Nil(t, perr)
	require.True(t, complete)
	require.Equal(t, len(full), consumed)
	require.Equal(t, "admin", req.Params["username"])
}

func TestTryParseRejectsBadContentLength(t *testing.T) {
	raw := "POST /api/login HTTP/1.1\r\nContent-Length: not-a-number\r\n\r\n"
	_, complete, _, perr := TryParse([]byte(raw), "1.2.3.4")
	require.False(t, complete)
	require.NotNil(t, perr)
}

func TestTryParseRejectsUnsupportedMethod(t *testing.T) {
	raw := "DELETE /api/ping HTTP/1.1\r\n\r\n"
	_, complete, _, perr := TryParse([]byte(raw), "1.2.3.4")
	require.False(t, complete)
	require.NotNil(t, perr)
}

func TestTryParseRejectsOversizedContentLength(t *testing.T) {
	old := MaxBodyBytes
	MaxBodyBytes = 10
	defer func() { MaxBodyBytes = old }()

	raw := "POST /api/login HTTP/1.1\r\nContent-Length: 4096\r\n\r\n"
	_, complete, _, perr := TryParse([]byte(raw), "1.2.3.4")
	require.False(t, complete)
	require.NotNil(t, perr)
	require.Equal(t, 413, perr.Code)
}

func TestTryParseGeneratesRequestIDWhenOmitted(t *testing.T) {
	raw := "GET /api/ping HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req, complete, _, perr := TryParse([]byte(raw), "1.2.3.4")
	require.Nil(t, perr)
	require.True(t, complete)
	require.NotEmpty(t, req.XRequestID)
}

func TestTryParseExtractsBearerToken(t *testing.T) {
	raw := "GET /api/secure HTTP/1.1\r\nAuthorization: Bearer abc.def.ghi\r\n\r\n"
	req, complete, _, perr := TryParse([]byte(raw), "1.2.3.4")
	require.Nil(t, perr)
	require.True(t, complete)
	require.Equal(t, "abc.def.ghi", req.BearerToken)
}

package httpx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetBodyIncludesRequiredHeaders(t *testing.T) {
	resp := SetBody(`{"status":"OK"}`, "https://example.com", true)
	s := string(resp.Bytes())

	require.True(t, strings.HasPrefix(s, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, s, "Content-Type: application/json\r\n")
	require.Contains(t, s, "Content-Length: 15\r\n")
	require.Contains(t, s, "Access-Control-Allow-Origin: https://example.com\r\n")
	require.Contains(t, s, "X-Frame-Options: SAMEORIGIN\r\n")
	require.Contains(t, s, "X-Content-Type-Options: nosniff\r\n")
	require.Contains(t, s, "Connection: close\r\n")
	require.True(t, strings.HasSuffix(s, `{"status":"OK"}`))
}

func TestSetBodyOmitsOriginWhenNotAllowed(t *testing.T) {
	resp := SetBody(`{}`, "https://evil.test", false)
	require.NotContains(t, string(resp.Bytes()), "Access-Control-Allow-Origin")
}

func TestErrorResponseReasonPhrases(t *testing.T) {
	require.Contains(t, string(ErrorResponse(404).Bytes()), "404 Not Found")
	require.Contains(t, string(ErrorResponse(401).Bytes()), "401 Unauthorized")
	require.Contains(t, string(ErrorResponse(405).Bytes()), "405 Method Not Allowed")

	noContent := string(ErrorResponse(204).Bytes())
	require.Contains(t, noContent, "204 No Content")
	require.True(t, strings.HasSuffix(noContent, "\r\n\r\n"))
}

func TestCORSPreflightResponse(t *testing.T) {
	resp := CORSPreflight("https://example.com", "authorization")
	s := string(resp.Bytes())

	require.True(t, strings.HasPrefix(s, "HTTP/1.1 204 No Content\r\n"))
	require.Contains(t, s, "Access-Control-Allow-Origin: https://example.com\r\n")
	require.Contains(t, s, "Access-Control-Allow-Methods: GET, POST\r\n")
	require.Contains(t, s, "Access-Control-Allow-Headers: authorization\r\n")
	require.Contains(t, s, "Access-Control-Max-Age: 600\r\n")
	require.Contains(t, s, "Vary: Origin\r\n")
}

func TestResponseWriteTracksCursorToCompletion(t *testing.T) {
	resp := SetBody(`{"a":1}`, "", false)
	total := len(resp.Bytes())

	var written []byte
	writer := func(p []byte) (int, error) {
		n := len(p)
		if n > 5 {
			n = 5
		}
		written = append(written, p[:n]...)
		return n, nil
	}

	for {
		done, err := resp.Write(writer)
		require.NoError(t, err)
		if done {
			break
		}
	}
	require.Equal(t, total, len(written))
	require.Equal(t, resp.Bytes(), written)
}

func TestJSONEscapeRoundTrips(t *testing.T) {
	inputs := []string{
		`simple`,
		"with\nnewline\tand\ttabs",
		`quote"and\backslash`,
		"control\x01char",
		"unicode: héllo wörld 日本語",
	}
	for _, in := range inputs {
		escaped := JSONEscape(in)
		quoted := `"` + escaped + `"`
		var out string
		require.NoError(t, json.Unmarshal([]byte(quoted), &out), in)
		require.Equal(t, in, out)
	}
}

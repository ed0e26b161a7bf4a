package reactor

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cppservergit/apiserver-odbc/internal/httpx"
	"github.com/cppservergit/apiserver-odbc/internal/logx"
	"github.com/cppservergit/apiserver-odbc/internal/metrics"
	"github.com/cppservergit/apiserver-odbc/internal/webapi"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func newTestReactor(t *testing.T, extra func(cfg *Config)) (*Reactor, int) {
	t.Helper()
	port := freePort(t)

	catalog := webapi.NewCatalog()
	require.NoError(t, catalog.Register(&webapi.Descriptor{
		Path: "/api/echo",
		Verb: webapi.GET,
		Handler: func(ctx context.Context, req webapi.Request) (string, error) {
			return `{"status":"OK"}`, nil
		},
	}))
	// Registered for catalog completeness like the real built-ins (apiserver's
	// registerBuiltins): the reactor bypasses this inline for non-OPTIONS
	// requests, but an OPTIONS request still needs to find it in the catalog
	// to reach the CORS lifecycle step instead of a 404.
	require.NoError(t, catalog.Register(&webapi.Descriptor{
		Path: "/api/ping",
		Verb: webapi.GET,
		Handler: func(ctx context.Context, req webapi.Request) (string, error) {
			return `{"status":"OK"}`, nil
		},
	}))
	catalog.Freeze()

	counters := metrics.New(2)
	logger := logx.New(nopWriter{}, slog.LevelError)

	cfg := Config{
		Port:         port,
		AllowOrigins: map[string]bool{"https://example.com": true},
		Catalog:      catalog,
		Counters:     counters,
		Log:          logger,
		PoolSize:     2,
		Dispatch: func(ctx context.Context, req *httpx.Request, d *webapi.Descriptor) *httpx.Response {
			if req.Method == httpx.MethodOptions {
				headers, _ := req.Header("access-control-request-headers")
				return httpx.CORSPreflight(req.Origin, headers)
			}
			body, _ := d.Handler(ctx, req)
			return httpx.SetBody(body, req.Origin, true)
		},
		InlinePing: func() *httpx.Response {
			return httpx.SetBody(`{"status":"OK"}`, "", false)
		},
		InlineSysinfo: func() *httpx.Response {
			return httpx.SetBody(`{}`, "", false)
		},
	}
	if extra != nil {
		extra(&cfg)
	}

	return New(cfg), port
}

func startAndWait(t *testing.T, r *Reactor, port int) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return cancel
}

func doRequest(t *testing.T, port int, raw string) string {
	t.Helper()
	c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte(raw))
	require.NoError(t, err)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))

	reader := bufio.NewReader(c)
	var out []byte
	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
	}
	return string(out)
}

func TestReactorServesPingInline(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "GET /api/ping HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Contains(t, resp, "200 OK")
	require.Contains(t, resp, `{"status":"OK"}`)
}

func TestReactorServesCatalogEndpoint(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "GET /api/echo HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Contains(t, resp, "200 OK")
	require.Contains(t, resp, `{"status":"OK"}`)
}

func TestReactorReturns404ForUnknownPath(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "GET /api/nope HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Contains(t, resp, "404 Not Found")
}

func TestReactorReturns403ForDisallowedOrigin(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "GET /api/echo HTTP/1.1\r\nHost: x\r\nOrigin: https://evil.test\r\n\r\n")
	require.Contains(t, resp, "403 Forbidden")
}

func TestReactorServesCORSPreflight(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "OPTIONS /api/echo HTTP/1.1\r\nHost: x\r\nOrigin: https://example.com\r\nAccess-Control-Request-Headers: authorization\r\n\r\n")
	require.Contains(t, resp, "204 No Content")
	require.Contains(t, resp, "Access-Control-Allow-Methods: GET, POST")
}

func TestReactorOptionsWithDisallowedOriginReturns403(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "OPTIONS /api/echo HTTP/1.1\r\nHost: x\r\nOrigin: https://evil.test\r\n\r\n")
	require.Contains(t, resp, "403 Forbidden")
}

func TestReactorOptionsToUnknownPathReturns404(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "OPTIONS /api/nope HTTP/1.1\r\nHost: x\r\nOrigin: https://example.com\r\n\r\n")
	require.Contains(t, resp, "404 Not Found")
}

func TestReactorOptionsOnPingGetsCORSNotInlinePing(t *testing.T) {
	r, port := newTestReactor(t, nil)
	cancel := startAndWait(t, r, port)
	defer cancel()

	resp := doRequest(t, port, "OPTIONS /api/ping HTTP/1.1\r\nHost: x\r\nOrigin: https://example.com\r\n\r\n")
	require.Contains(t, resp, "204 No Content")
}

func TestReactorShutsDownOnContextCancel(t *testing.T) {
	r, port := newTestReactor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	doneCh := make(chan error, 1)
	go func() { doneCh <- r.Start(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("reactor did not shut down in time")
	}
}

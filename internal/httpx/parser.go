package httpx

import (
	"bytes"
	"strings"

	"github.com/google/uuid"
)

// MaxBodyBytes caps the Content-Length a request body may declare; requests
// exceeding it get a 413 instead of growing the connection buffer without
// bound (spec.md's payload-size-cap open question). cmd/apiserver sets this
// from config at startup.
var MaxBodyBytes = 8 * 1024 * 1024

// ParseResult reports how far parsing of a growing buffer has progressed.
type ParseResult struct {
	Complete bool
	Request  *Request
	Err      *ParseError
}

// headerEnd locates the "\r\n\r\n" terminator of the header block, or -1 if
// not yet present.
func headerEnd(buf []byte) int {
	return bytes.Index(buf, []byte("\r\n\r\n"))
}

// ParseHeaders parses the request line and headers from buf (which must
// contain the full header block, i.e. headerEnd(buf) >= 0) into req. It
// returns the offset just past the terminating "\r\n\r\n" (the body start).
func ParseHeaders(buf []byte, req *Request) (int, *ParseError) {
	lineEnd := bytes.Index(buf, []byte("\r\n"))
	if lineEnd == -1 {
		return 0, &ParseError{Code: 400, Message: "malformed request line"}
	}
	requestLine := string(buf[:lineEnd])
	parts := strings.SplitN(requestLine, " ", 3)
	if len(parts) != 3 {
		return 0, &ParseError{Code: 400, Message: "malformed request line"}
	}
	method := parts[0]
	switch method {
	case "GET", "POST", "OPTIONS":
		req.Method = Method(method)
	default:
		return 0, &ParseError{Code: 400, Message: "unsupported method " + method}
	}
	if !strings.HasPrefix(parts[2], "HTTP/1.") {
		return 0, &ParseError{Code: 400, Message: "unsupported protocol version"}
	}

	target := parts[1]
	if q := strings.IndexByte(target, '?'); q >= 0 {
		req.Path = target[:q]
		req.Query = target[q+1:]
	} else {
		req.Path = target
	}

	cursor := lineEnd + 2
	end := headerEnd(buf)
	for cursor < end {
		nl := bytes.IndexByte(buf[cursor:end], '\n')
		if nl == -1 {
			break
		}
		line := buf[cursor : cursor+nl]
		line = bytes.TrimSuffix(line, []byte("\r"))
		cursor += nl + 1

		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		value := strings.TrimSpace(string(line[colon+1:]))
		req.Headers[name] = value
	}

	if err := finishHeaders(req); err != nil {
		return 0, err
	}

	return end + 4, nil
}

func finishHeaders(req *Request) *ParseError {
	if ct, ok := req.Header("content-type"); ok {
		if idx := strings.Index(ct, "boundary="); idx >= 0 {
			req.Boundary = strings.Trim(ct[idx+len("boundary="):], `"`)
			req.IsMultipartF = true
		}
	}

	if req.Method != MethodGet && req.Method != MethodOptions {
		clRaw, _ := req.Header("content-length")
		n, ok := parseContentLength(clRaw)
		if !ok {
			return &ParseError{Code: 400, Message: "invalid content-length"}
		}
		if n > MaxBodyBytes {
			return &ParseError{Code: 413, Message: "payload too large"}
		}
		req.ContentLength = n
	}

	if origin, ok := req.Header("origin"); ok {
		req.Origin = origin
	}
	if auth, ok := req.Header("authorization"); ok {
		const prefix = "Bearer "
		if strings.HasPrefix(auth, prefix) {
			req.BearerToken = strings.TrimSpace(auth[len(prefix):])
		}
	}
	if id, ok := req.Header("x-request-id"); ok && id != "" {
		req.XRequestID = id
	} else {
		req.XRequestID = uuid.NewString()
	}
	return nil
}

// TryParse attempts to parse one complete request out of buf. It returns
// complete=false, no error, when more bytes are still needed. Completion
// rule (spec.md §4.2): once headers are parsed, the request is complete iff
// (len(buf) - bodyStart) >= contentLength.
func TryParse(buf []byte, remoteIP string) (req *Request, complete bool, consumed int, perr *ParseError) {
	if headerEnd(buf) == -1 {
		return nil, false, 0, nil
	}
	req = NewRequest(remoteIP)
	bodyStart, err := ParseHeaders(buf, req)
	if err != nil {
		return nil, false, 0, err
	}
	req.BodyStart = bodyStart

	available := len(buf) - bodyStart
	if available < req.ContentLength {
		return nil, false, 0, nil
	}

	req.raw = buf[:bodyStart+req.ContentLength]
	req.body = req.raw[bodyStart : bodyStart+req.ContentLength]

	if err := ParseBody(req); err != nil {
		return nil, false, 0, err
	}

	return req, true, bodyStart + req.ContentLength, nil
}

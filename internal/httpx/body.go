package httpx

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobDir is the directory multipart file parts are streamed into. Set
// once at startup from configuration.
var BlobDir = "/var/blobs"

// ParseBody dispatches to the content-type-specific body parser, populating
// req.Params. A request with no recognized content-type and a non-empty
// body leaves Params untouched (handlers read req.Body() directly in that
// case).
func ParseBody(req *Request) *ParseError {
	ct, _ := req.Header("content-type")
	ct = strings.ToLower(ct)

	switch {
	case req.IsMultipartF:
		return parseMultipart(req)
	case strings.HasPrefix(ct, "application/x-www-form-urlencoded"):
		return parseURLEncoded(req)
	case strings.HasPrefix(ct, "application/json"):
		return parseJSONShallow(req)
	}
	return nil
}

func parseURLEncoded(req *Request) *ParseError {
	values, err := url.ParseQuery(string(req.body))
	if err != nil {
		return &ParseError{Code: 400, Message: "malformed urlencoded body"}
	}
	for k, v := range values {
		if len(v) > 0 {
			req.Params[k] = v[0]
		}
	}
	return nil
}

// parseJSONShallow builds a string map from a JSON object body; nested
// objects and arrays are skipped entirely (spec.md §4.2).
func parseJSONShallow(req *Request) *ParseError {
	body := bytes.TrimSpace(req.body)
	if len(body) == 0 {
		return nil
	}
	if body[0] != '{' {
		return &ParseError{Code: 400, Message: "expected JSON object body"}
	}
	i := 1
	n := len(body)
	skipWS := func() {
		for i < n && isJSONSpace(body[i]) {
			i++
		}
	}
	for {
		skipWS()
		if i >= n {
			return &ParseError{Code: 400, Message: "truncated JSON body"}
		}
		if body[i] == '}' {
			i++
			break
		}
		key, next, ok := scanJSONString(body, i)
		if !ok {
			return &ParseError{Code: 400, Message: "malformed JSON key"}
		}
		i = next
		skipWS()
		if i >= n || body[i] != ':' {
			return &ParseError{Code: 400, Message: "expected ':' in JSON body"}
		}
		i++
		skipWS()
		val, next, skipped, ok := scanJSONValue(body, i)
		if !ok {
			return &ParseError{Code: 400, Message: "malformed JSON value"}
		}
		i = next
		if !skipped {
			req.Params[key] = val
		}
		skipWS()
		if i < n && body[i] == ',' {
			i++
			continue
		}
		skipWS()
		if i < n && body[i] == '}' {
			i++
			break
		}
		if i >= n {
			return &ParseError{Code: 400, Message: "truncated JSON body"}
		}
	}
	return nil
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// scanJSONString reads a quoted JSON string starting at buf[i] == '"',
// returning its decoded value and the offset just past the closing quote.
func scanJSONString(buf []byte, i int) (string, int, bool) {
	if i >= len(buf) || buf[i] != '"' {
		return "", i, false
	}
	i++
	var sb strings.Builder
	for i < len(buf) {
		c := buf[i]
		if c == '"' {
			return sb.String(), i + 1, true
		}
		if c == '\\' && i+1 < len(buf) {
			i++
			switch buf[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"', '\\', '/':
				sb.WriteByte(buf[i])
			default:
				sb.WriteByte(buf[i])
			}
			i++
			continue
		}
		sb.WriteByte(c)
		i++
	}
	return "", i, false
}

// scanJSONValue reads one JSON value (string, number, bool, null, nested
// object/array). Nested objects/arrays are skipped: skipped=true signals
// the caller not to record a parameter for this key.
func scanJSONValue(buf []byte, i int) (value string, next int, skipped bool, ok bool) {
	if i >= len(buf) {
		return "", i, false, false
	}
	switch buf[i] {
	case '"':
		s, n, ok2 := scanJSONString(buf, i)
		return s, n, false, ok2
	case '{':
		n, ok2 := skipJSONContainer(buf, i, '{', '}')
		return "", n, true, ok2
	case '[':
		n, ok2 := skipJSONContainer(buf, i, '[', ']')
		return "", n, true, ok2
	default:
		start := i
		for i < len(buf) && buf[i] != ',' && buf[i] != '}' && !isJSONSpace(buf[i]) {
			i++
		}
		if i == start {
			return "", i, false, false
		}
		return string(buf[start:i]), i, false, true
	}
}

func skipJSONContainer(buf []byte, i int, open, close byte) (int, bool) {
	depth := 0
	inStr := false
	for i < len(buf) {
		c := buf[i]
		if inStr {
			if c == '\\' {
				i += 2
				continue
			}
			if c == '"' {
				inStr = false
			}
			i++
			continue
		}
		switch c {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
		i++
	}
	return i, false
}

// parseMultipart splits the body on the declared boundary; non-file parts
// become string parameters, file parts are streamed to BlobDir under a
// generated UUID filename and the parameter mapping receives the UUID,
// original filename, content-type, and content-length.
func parseMultipart(req *Request) *ParseError {
	boundary := []byte("--" + req.Boundary)
	parts := bytes.Split(req.body, boundary)

	for _, part := range parts {
		part = bytes.TrimPrefix(part, []byte("\r\n"))
		part = bytes.TrimSuffix(part, []byte("\r\n"))
		if len(part) == 0 || bytes.Equal(part, []byte("--")) {
			continue
		}
		sep := bytes.Index(part, []byte("\r\n\r\n"))
		if sep == -1 {
			continue
		}
		headerBlock := string(part[:sep])
		content := part[sep+4:]
		content = bytes.TrimSuffix(content, []byte("\r\n"))

		fieldName, filename, contentType := parsePartHeaders(headerBlock)
		if fieldName == "" {
			continue
		}

		if filename == "" {
			req.Params[fieldName] = string(content)
			continue
		}

		id := uuid.NewString()
		blobPath := filepath.Join(BlobDir, id)
		if err := os.WriteFile(blobPath, content, 0o600); err != nil {
			return &ParseError{Code: 500, Message: fmt.Sprintf("writing blob: %v", err)}
		}
		req.AddBlob(blobPath)
		req.Params[fieldName] = id
		req.Params[fieldName+"_filename"] = filename
		req.Params[fieldName+"_contenttype"] = contentType
		req.Params[fieldName+"_contentlength"] = fmt.Sprintf("%d", len(content))
	}
	return nil
}

func parsePartHeaders(block string) (fieldName, filename, contentType string) {
	for _, line := range strings.Split(block, "\r\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "content-disposition:") {
			fieldName = extractQuoted(line, "name")
			filename = extractQuoted(line, "filename")
		} else if strings.HasPrefix(lower, "content-type:") {
			contentType = strings.TrimSpace(line[len("content-type:"):])
		}
	}
	return
}

func extractQuoted(s, key string) string {
	marker := key + `="`
	idx := strings.Index(s, marker)
	if idx == -1 {
		return ""
	}
	start := idx + len(marker)
	end := strings.IndexByte(s[start:], '"')
	if end == -1 {
		return ""
	}
	return s[start : start+end]
}

// CleanupBlobs deletes every blob file this request created, called on any
// error path (spec.md's blob-cleanup rule).
func (r *Request) CleanupBlobs() {
	for _, path := range r.Blobs {
		_ = os.Remove(path)
	}
	r.Blobs = nil
}

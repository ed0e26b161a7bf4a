package httpx

import (
	"fmt"
	"strings"
	"time"
)

// Response is the append-only, write-cursor-tracked outbound buffer
// (spec.md §4.5).
type Response struct {
	data   []byte
	cursor int
}

// SetBody builds a full 200 OK JSON response.
func SetBody(body, origin string, allowOrigin bool) *Response {
	return buildOKResponse(body, "application/json", origin, allowOrigin, "")
}

// SetBodyBlob builds a 200 OK response honoring a previously-set
// Content-Disposition header (e.g. for file downloads).
func SetBodyBlob(body, contentType, origin string, allowOrigin bool, contentDisposition string) *Response {
	return buildOKResponse(body, contentType, origin, allowOrigin, contentDisposition)
}

func buildOKResponse(body, contentType, origin string, allowOrigin bool, contentDisposition string) *Response {
	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123))
	writeSecurityHeaders(&b, origin, allowOrigin)
	if contentDisposition != "" {
		fmt.Fprintf(&b, "Content-Disposition: %s\r\n", contentDisposition)
	}
	b.WriteString("Connection: close\r\n\r\n")
	b.WriteString(body)
	return &Response{data: []byte(b.String())}
}

func writeSecurityHeaders(b *strings.Builder, origin string, allowOrigin bool) {
	if allowOrigin && origin != "" {
		fmt.Fprintf(b, "Access-Control-Allow-Origin: %s\r\n", origin)
		b.WriteString("Access-Control-Allow-Credentials: true\r\n")
	}
	b.WriteString("Strict-Transport-Security: max-age=31536000; includeSubDomains\r\n")
	b.WriteString("X-Frame-Options: SAMEORIGIN\r\n")
	b.WriteString("X-Content-Type-Options: nosniff\r\n")
}

var reasonPhrase = map[int]string{
	204: "No Content",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	413: "Payload Too Large",
}

// ErrorResponse builds an error response using the distinct error template
// (spec.md §4.5): the status line, then for every status but 204 a
// text/plain body holding the reason phrase, and Connection: close.
func ErrorResponse(status int) *Response {
	phrase, ok := reasonPhrase[status]
	if !ok {
		phrase = "Error"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, phrase)
	if status == 204 {
		b.WriteString("Connection: close\r\n\r\n")
		return &Response{data: []byte(b.String())}
	}
	body := phrase
	fmt.Fprintf(&b, "Content-Type: text/plain\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Connection: close\r\n\r\n")
	b.WriteString(body)
	return &Response{data: []byte(b.String())}
}

// CORSPreflight builds the 204 response to an OPTIONS request (spec.md
// §4.4 step 1).
func CORSPreflight(origin, requestedHeaders string) *Response {
	var b strings.Builder
	b.WriteString("HTTP/1.1 204 No Content\r\n")
	fmt.Fprintf(&b, "Access-Control-Allow-Origin: %s\r\n", origin)
	b.WriteString("Access-Control-Allow-Methods: GET, POST\r\n")
	if requestedHeaders != "" {
		fmt.Fprintf(&b, "Access-Control-Allow-Headers: %s\r\n", requestedHeaders)
	}
	b.WriteString("Access-Control-Max-Age: 600\r\n")
	b.WriteString("Vary: Origin\r\n")
	b.WriteString("Connection: close\r\n\r\n")
	return &Response{data: []byte(b.String())}
}

// Bytes returns the full response bytes.
func (r *Response) Bytes() []byte { return r.data }

// Write emits as many bytes as writer (a raw socket write func) accepts in
// one call, advancing the cursor. It returns true once the cursor reaches
// the end of the buffer.
func (r *Response) Write(writer func([]byte) (int, error)) (bool, error) {
	if r.cursor >= len(r.data) {
		return true, nil
	}
	n, err := writer(r.data[r.cursor:])
	if n > 0 {
		r.cursor += n
	}
	if err != nil {
		return false, err
	}
	return r.cursor >= len(r.data), nil
}

// JSONEscape escapes s for safe embedding inside a JSON string literal.
// Control characters become \uXXXX; the standard single-character escapes
// are used where they exist.
func JSONEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, r)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

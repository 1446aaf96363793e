package lsp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxContentLength bounds a single message body.
const maxContentLength = 64 << 20

// ReadMessage reads one Content-Length framed message from r and returns its
// body. Headers other than Content-Length are ignored.
//
// A stream that ends before any header byte returns io.EOF. Every other
// framing failure returns a *ProtocolError.
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	first := true
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if first && line == "" && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, &ProtocolError{Reason: "reading header", Err: err}
		}
		first = false

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // End of headers
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &ProtocolError{Reason: fmt.Sprintf("malformed header %q", line)}
		}
		if !strings.EqualFold(strings.TrimSpace(name), "content-length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, &ProtocolError{Reason: fmt.Sprintf("invalid Content-Length %q", value)}
		}
		if n > maxContentLength {
			return nil, &ProtocolError{Reason: fmt.Sprintf("Content-Length %d exceeds limit", n)}
		}
		contentLength = n
	}

	if contentLength < 0 {
		return nil, &ProtocolError{Reason: "missing Content-Length header"}
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, &ProtocolError{Reason: "reading body", Err: err}
	}
	return body, nil
}

// WriteMessage frames body and writes header and body with a single Write.
func WriteMessage(w io.Writer, body []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n"
	buf := make([]byte, 0, len(header)+len(body))
	buf = append(buf, header...)
	buf = append(buf, body...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

package responder

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Header is a single name/value pair, kept in order.
type Header struct {
	Name  string
	Value string
}

// Conn is one request as seen by a Handler, plus the response the handler
// builds. Nothing is sent to the client until the handler returns.
type Conn struct {
	ID       string
	Time     time.Time
	RemoteIP string
	Method   string
	URI      string
	Query    string
	Headers  []Header
	Content  []byte

	status      int
	respHeaders []Header
	body        bytes.Buffer
}

func newConn(id string, r *http.Request, content []byte) *Conn {
	c := &Conn{
		ID:       id,
		Time:     time.Now(),
		RemoteIP: remoteIP(r.RemoteAddr),
		Method:   r.Method,
		URI:      r.URL.Path,
		Query:    r.URL.RawQuery,
		Content:  content,
	}

	// net/http moves Host out of the header map
	if r.Host != "" {
		c.Headers = append(c.Headers, Header{Name: "Host", Value: r.Host})
	}
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.Header[name] {
			c.Headers = append(c.Headers, Header{Name: name, Value: v})
		}
	}
	return c
}

// Header returns the first request header with the given name, compared
// case-insensitively.
func (c *Conn) Header(name string) string {
	for _, h := range c.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// SendHeader adds a response header.
func (c *Conn) SendHeader(name, value string) {
	c.respHeaders = append(c.respHeaders, Header{Name: name, Value: value})
}

// SetStatus sets the response status. Defaults to 200.
func (c *Conn) SetStatus(code int) {
	c.status = code
}

// Write appends to the response body.
func (c *Conn) Write(p []byte) (int, error) {
	return c.body.Write(p)
}

// Printf appends formatted text to the response body.
func (c *Conn) Printf(format string, args ...any) (int, error) {
	return fmt.Fprintf(&c.body, format, args...)
}

// reset discards whatever the handler produced so far.
func (c *Conn) reset() {
	c.status = 0
	c.respHeaders = nil
	c.body.Reset()
}

// fail replaces the response with a plain status page.
func (c *Conn) fail(code int) {
	c.reset()
	c.status = code
	c.SendHeader("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(&c.body, "%d %s\n", code, http.StatusText(code))
}

func (c *Conn) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

// writeTo sends the buffered response.
func (c *Conn) writeTo(w http.ResponseWriter) {
	h := w.Header()
	for _, rh := range c.respHeaders {
		h.Add(rh.Name, rh.Value)
	}
	h.Set("X-Request-Id", c.ID)
	w.WriteHeader(c.statusCode())
	_, _ = w.Write(c.body.Bytes())
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

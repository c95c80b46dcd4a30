package responder

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// startServer listens on a loopback port. With workers > 0 it also starts
// that many poll loops, stopped on cleanup.
func startServer(t *testing.T, h Handler, opts Options, workers int) (*Server, string) {
	t.Helper()

	s := New(h, opts)
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				s.Poll(20 * time.Millisecond)
			}
		}()
	}

	t.Cleanup(func() {
		cancel()
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Destroy(ctx)
	})
	return s, "http://" + s.Addrs()[0].String()
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func TestVerdicts(t *testing.T) {
	tests := []struct {
		name       string
		auth       Verdict
		request    Verdict
		wantStatus int
	}{
		{"handled", True, True, http.StatusOK},
		{"not handled", True, False, http.StatusNotFound},
		{"rejected", True, Reject, http.StatusForbidden},
		{"auth false", False, True, http.StatusUnauthorized},
		{"auth reject", Reject, True, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCalls atomic.Int32
			h := func(c *Conn, ev Event) Verdict {
				if ev == EventAuth {
					return tt.auth
				}
				requestCalls.Add(1)
				c.Printf("hello")
				return tt.request
			}
			_, base := startServer(t, h, Options{}, 1)

			resp, body := get(t, base+"/")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && body != "hello" {
				t.Errorf("body = %q, want hello", body)
			}
			if tt.wantStatus != http.StatusOK && strings.Contains(body, "hello") {
				t.Errorf("handler output leaked into %d response: %q", resp.StatusCode, body)
			}
			if tt.auth != True && requestCalls.Load() != 0 {
				t.Error("request event delivered after failed auth")
			}
		})
	}
}

func TestConnFields(t *testing.T) {
	got := make(chan Conn, 1)
	h := func(c *Conn, ev Event) Verdict {
		if ev == EventRequest {
			got <- Conn{
				ID: c.ID, RemoteIP: c.RemoteIP, Method: c.Method, URI: c.URI,
				Query: c.Query, Headers: c.Headers, Content: c.Content,
			}
		}
		return True
	}
	_, base := startServer(t, h, Options{}, 1)

	req, err := http.NewRequest(http.MethodPost, base+"/echo/path?a=1&b=two", strings.NewReader("payload"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Test", "value")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	c := <-got
	if c.Method != "POST" || c.URI != "/echo/path" || c.Query != "a=1&b=two" {
		t.Errorf("request line = %s %s ? %s", c.Method, c.URI, c.Query)
	}
	if c.RemoteIP != "127.0.0.1" {
		t.Errorf("RemoteIP = %q", c.RemoteIP)
	}
	if string(c.Content) != "payload" {
		t.Errorf("Content = %q", c.Content)
	}
	if v := c.Header("x-test"); v != "value" {
		t.Errorf("Header(x-test) = %q", v)
	}
	if c.Headers[0].Name != "Host" {
		t.Errorf("first header = %q, want Host", c.Headers[0].Name)
	}
	if len(c.ID) != 26 {
		t.Errorf("ID = %q", c.ID)
	}
	if resp.Header.Get("X-Request-Id") != c.ID {
		t.Errorf("X-Request-Id = %q, want %q", resp.Header.Get("X-Request-Id"), c.ID)
	}
}

func TestResponseHeadersAndStatus(t *testing.T) {
	h := func(c *Conn, ev Event) Verdict {
		if ev == EventRequest {
			c.SendHeader("Content-Type", "text/html")
			c.SendHeader("X-Robots-Tag", "noindex")
			c.SetStatus(http.StatusAccepted)
			_, _ = c.Write([]byte("<p>ok</p>"))
		}
		return True
	}
	_, base := startServer(t, h, Options{}, 1)

	resp, body := get(t, base+"/")
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "text/html" || resp.Header.Get("X-Robots-Tag") != "noindex" {
		t.Errorf("headers = %v", resp.Header)
	}
	if body != "<p>ok</p>" {
		t.Errorf("body = %q", body)
	}
}

func TestPollTimeout(t *testing.T) {
	s := New(func(*Conn, Event) Verdict { return True }, Options{})
	t.Cleanup(func() { _ = s.Destroy(context.Background()) })

	start := time.Now()
	if n := s.Poll(30 * time.Millisecond); n != 0 {
		t.Errorf("Poll = %d, want 0", n)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("Poll returned after %v, expected to wait for the timeout", elapsed)
	}
}

func TestRequestsWaitForPoll(t *testing.T) {
	s, base := startServer(t, func(*Conn, Event) Verdict { return True }, Options{}, 0)

	result := make(chan int, 1)
	go func() {
		resp, err := http.Get(base + "/")
		if err != nil {
			result <- -1
			return
		}
		resp.Body.Close()
		result <- resp.StatusCode
	}()

	select {
	case <-result:
		t.Fatal("request completed without anyone polling")
	case <-time.After(100 * time.Millisecond):
	}

	if n := s.Poll(2 * time.Second); n != 1 {
		t.Errorf("Poll = %d, want 1", n)
	}
	select {
	case code := <-result:
		if code != http.StatusOK {
			t.Errorf("status = %d", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request not answered after Poll")
	}
}

func TestDestroyAnswersQueuedRequests(t *testing.T) {
	s, base := startServer(t, func(*Conn, Event) Verdict { return True }, Options{}, 0)

	result := make(chan int, 1)
	go func() {
		resp, err := http.Get(base + "/")
		if err != nil {
			result <- -1
			return
		}
		resp.Body.Close()
		result <- resp.StatusCode
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.queue) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if code := <-result; code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if n := s.Poll(10 * time.Millisecond); n != 0 {
		t.Errorf("Poll after Destroy = %d, want 0", n)
	}
	if err := s.Listen("127.0.0.1:0"); err == nil {
		t.Error("Listen after Destroy should fail")
	}
}

// queueRequests sends n GETs in the background and waits until all of them
// sit in the queue. Results are discarded.
func queueRequests(t *testing.T, s *Server, base string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		go func() {
			resp, err := http.Get(base + "/")
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.queue) < n {
		if time.Now().After(deadline) {
			t.Fatalf("only %d of %d requests queued", len(s.queue), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPollStopsAtDeadline(t *testing.T) {
	var handled atomic.Int32
	h := func(c *Conn, ev Event) Verdict {
		if ev == EventRequest {
			handled.Add(1)
			time.Sleep(50 * time.Millisecond)
		}
		return True
	}
	s, base := startServer(t, h, Options{}, 0)
	queueRequests(t, s, base, 5)

	// The first request alone outlasts the slice
	if n := s.Poll(10 * time.Millisecond); n != 1 {
		t.Errorf("Poll = %d, want 1", n)
	}
	if handled.Load() != 1 {
		t.Errorf("handled = %d, want 1", handled.Load())
	}
	if len(s.queue) != 4 {
		t.Errorf("queue length = %d, want 4", len(s.queue))
	}
}

func TestPollAfterCloseLeavesQueue(t *testing.T) {
	var handled atomic.Int32
	h := func(c *Conn, ev Event) Verdict {
		handled.Add(1)
		return True
	}
	s, base := startServer(t, h, Options{}, 0)

	result := make(chan int, 1)
	go func() {
		resp, err := http.Get(base + "/")
		if err != nil {
			result <- -1
			return
		}
		resp.Body.Close()
		result <- resp.StatusCode
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(s.queue) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Same first step as Destroy, with the request still queued
	s.closeOnce.Do(func() { close(s.done) })
	for range 20 {
		if n := s.Poll(time.Millisecond); n != 0 {
			t.Fatalf("Poll after close = %d, want 0", n)
		}
	}
	if handled.Load() != 0 {
		t.Errorf("handler ran %d times after close", handled.Load())
	}
	if code := <-result; code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
}

func TestOnComplete(t *testing.T) {
	records := make(chan Record, 4)
	h := func(c *Conn, ev Event) Verdict {
		if ev == EventAuth {
			return True
		}
		if c.URI == "/found" {
			c.Printf("12345")
			return True
		}
		return False
	}
	_, base := startServer(t, h, Options{OnComplete: func(r Record) { records <- r }}, 1)

	get(t, base+"/found?x=1")
	get(t, base+"/missing")

	r1, r2 := <-records, <-records
	if r1.URI != "/found" || r1.Status != 200 || r1.Bytes != 5 || r1.Query != "x=1" {
		t.Errorf("first record = %+v", r1)
	}
	if r2.URI != "/missing" || r2.Status != 404 {
		t.Errorf("second record = %+v", r2)
	}
	if r1.ID == "" || r1.ID >= r2.ID {
		t.Errorf("record IDs should increase: %q then %q", r1.ID, r2.ID)
	}
}

func TestHandlerPanic(t *testing.T) {
	h := func(c *Conn, ev Event) Verdict {
		if ev == EventRequest {
			panic("boom")
		}
		return True
	}
	_, base := startServer(t, h, Options{}, 1)

	resp, _ := get(t, base+"/")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	// The worker survives the panic
	resp, _ = get(t, base+"/")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("second status = %d, want 500", resp.StatusCode)
	}
}

func TestMultipleWorkers(t *testing.T) {
	var handled atomic.Int32
	h := func(c *Conn, ev Event) Verdict {
		if ev == EventRequest {
			handled.Add(1)
			time.Sleep(10 * time.Millisecond)
		}
		return True
	}
	_, base := startServer(t, h, Options{}, 4)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Get(base + "/")
			if err != nil {
				errs <- err.Error()
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- resp.Status
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
	if handled.Load() != n {
		t.Errorf("handled = %d, want %d", handled.Load(), n)
	}
}

func TestHandleBypassesQueue(t *testing.T) {
	s := New(func(*Conn, Event) Verdict { return False }, Options{})
	s.Handle("/direct", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "direct")
	}))
	if err := s.Listen("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Destroy(context.Background()) })

	resp, body := get(t, "http://"+s.Addrs()[0].String()+"/direct")
	if resp.StatusCode != http.StatusOK || body != "direct" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
}

func TestContentTooLarge(t *testing.T) {
	_, base := startServer(t, func(*Conn, Event) Verdict { return True }, Options{MaxContentBytes: 8}, 1)

	resp, err := http.Post(base+"/", "text/plain", strings.NewReader(strings.Repeat("x", 100)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestEventAndVerdictString(t *testing.T) {
	if EventAuth.String() != "auth" || EventRequest.String() != "request" || Event(9).String() != "Event(9)" {
		t.Error("unexpected Event strings")
	}
	if True.String() != "true" || False.String() != "false" || Reject.String() != "reject" {
		t.Error("unexpected Verdict strings")
	}
}

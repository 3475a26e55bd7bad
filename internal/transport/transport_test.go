package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientSendsHeaders(t *testing.T) {
	var gotUA, gotCustom string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotCustom = r.Header.Get("X-Channel")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(Options{
		UserAgent: "updraft-test/1.0",
		Headers:   map[string]string{"X-Channel": "beta"},
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	_ = resp.Body.Close()

	if gotUA != "updraft-test/1.0" {
		t.Errorf("User-Agent = %q, want %q", gotUA, "updraft-test/1.0")
	}
	if gotCustom != "beta" {
		t.Errorf("X-Channel = %q, want %q", gotCustom, "beta")
	}
}

func TestNewClientUsesExplicitProxy(t *testing.T) {
	var proxied string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied = r.URL.String()
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	client, err := NewClient(Options{Proxy: proxy.URL})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	resp, err := client.Get("http://feeds.example.invalid/appcast.xml")
	if err != nil {
		t.Fatalf("Get() through proxy error: %v", err)
	}
	_ = resp.Body.Close()

	if proxied != "http://feeds.example.invalid/appcast.xml" {
		t.Errorf("proxy saw %q, want absolute feed URL", proxied)
	}
}

func TestNewClientIgnoresProxyEnvironment(t *testing.T) {
	t.Setenv("HTTP_PROXY", "http://127.0.0.1:1")
	t.Setenv("http_proxy", "http://127.0.0.1:1")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewClient(DefaultOptions())
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("Get() should not use environment proxy: %v", err)
	}
	_ = resp.Body.Close()
}

func TestNewClientRejectsInvalidProxy(t *testing.T) {
	for _, proxy := range []string{"::not a url", "no-scheme"} {
		_, err := NewClient(Options{Proxy: proxy})
		if !errors.Is(err, ErrInvalidProxy) {
			t.Errorf("NewClient(proxy=%q) error = %v, want ErrInvalidProxy", proxy, err)
		}
	}
}

func TestNewClientTLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	strict, err := NewClient(DefaultOptions())
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if resp, err := strict.Get(server.URL); err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected certificate error for self-signed server")
	}

	hostOnly, err := NewClient(Options{SkipHostnameVerify: true})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if resp, err := hostOnly.Get(server.URL); err == nil {
		_ = resp.Body.Close()
		t.Fatal("skipping the hostname check must still verify the chain")
	}

	trusting, err := NewClient(Options{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	resp, err := trusting.Get(server.URL)
	if err != nil {
		t.Fatalf("InsecureSkipVerify client error: %v", err)
	}
	_ = resp.Body.Close()
}

func TestReadTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(Options{ReadTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
	resp, err := client.Do(req)
	if err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected response header timeout")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %v, want timeout", err)
	}
}

func TestOptionsTotal(t *testing.T) {
	if got := (Options{}).Total(); got != DefaultConnectTimeout+DefaultReadTimeout {
		t.Errorf("Total() = %v, want %v", got, DefaultConnectTimeout+DefaultReadTimeout)
	}
	opts := Options{ConnectTimeout: time.Second, ReadTimeout: 2 * time.Second}
	if got := opts.Total(); got != 3*time.Second {
		t.Errorf("Total() = %v, want 3s", got)
	}
}

func TestDefaultUserAgent(t *testing.T) {
	if got := DefaultUserAgent("1.2.3"); !strings.HasPrefix(got, "updraft/1.2.3 (") {
		t.Errorf("DefaultUserAgent() = %q", got)
	}
	if got := DefaultUserAgent(""); !strings.HasPrefix(got, "updraft (") {
		t.Errorf("DefaultUserAgent(\"\") = %q", got)
	}
}

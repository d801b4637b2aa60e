package webfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidateURL_RejectsLocalhost(t *testing.T) {
	if _, err := ValidateURL("http://localhost/resource"); err == nil {
		t.Fatalf("expected validation error for localhost")
	}
}

func TestValidateURL_RejectsLoopbackIP(t *testing.T) {
	if _, err := ValidateURL("http://127.0.0.1/resource"); err == nil {
		t.Fatalf("expected validation error for loopback ip")
	}
}

func TestValidateURL_RejectsPrivateIP(t *testing.T) {
	if _, err := ValidateURL("http://10.0.0.5/resource"); err == nil {
		t.Fatalf("expected validation error for private ip")
	}
}

func TestValidateURL_RejectsLinkLocal(t *testing.T) {
	if _, err := ValidateURL("http://169.254.1.1/"); err == nil {
		t.Fatalf("expected validation error for link-local ip")
	}
}

func TestValidateURL_RejectsNonHTTPScheme(t *testing.T) {
	if _, err := ValidateURL("ftp://example.com/resource"); err == nil {
		t.Fatalf("expected validation error for non-http scheme")
	}
}

func TestValidateURL_AllowsPublicHTTPS(t *testing.T) {
	u, err := ValidateURL("https://example.com/article")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Host != "example.com" {
		t.Fatalf("unexpected host: %s", u.Host)
	}
}

func TestExtractArticle_FallsBackWhenNoReadableContent(t *testing.T) {
	_, md, used, err := ExtractArticle("https://example.com", "<html><body></body></html>")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used {
		t.Fatalf("expected fallback, not readability extraction, for empty body")
	}
	_ = md
}

func TestHTTPBrowser_Navigate_DecodesNonUTF8Charset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1252")
		w.Write([]byte("<html><body>caf\xe9</body></html>"))
	}))
	defer srv.Close()

	b := NewHTTPBrowser()
	res, err := b.Navigate(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(res.HTML, "café") {
		t.Fatalf("expected decoded html to contain café, got: %q", res.HTML)
	}
}

func TestToUTF8_NoopForUTF8(t *testing.T) {
	in := []byte("hello")
	out, err := ToUTF8(in, "utf-8")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "hello" {
		t.Fatalf("unexpected output: %s", out)
	}
}

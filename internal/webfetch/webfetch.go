// Package webfetch implements the URL branch of spec.md §4.2 stage 1
// (Prepare Content): validating a submitted URL, driving a headless browser
// to capture its rendered HTML and a screenshot, and extracting the article
// body as Markdown via a readability algorithm. Merges the teacher's
// internal/tools/web/fetch.go (readability extraction, HTML->Markdown,
// charset normalization -- kept close to verbatim, since this is an
// external-collaborator-shaped concern per spec.md §6) with the chromedp
// navigate+screenshot call shape from the teacher's screenshot tool,
// stripped of that tool's JSON-schema/sandbox/file-writing surface since
// spec.md's contract is simply `navigate(url) -> (html, screenshot)`.
package webfetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"knowledgecore/internal/apperr"
)

// NavigateResult is what the headless browser returns for one page load.
type NavigateResult struct {
	FinalURL   string
	HTML       string
	Screenshot []byte // PNG
	Title      string
}

// Browser is the external headless-browser collaborator (spec.md §6):
// navigate(url) -> (html, screenshot).
type Browser interface {
	Navigate(ctx context.Context, rawURL string) (NavigateResult, error)
}

// ChromeBrowser drives a real Chrome/Chromium instance via chromedp.
type ChromeBrowser struct {
	Width, Height int
	Timeout       time.Duration
}

// NewChromeBrowser constructs a ChromeBrowser with the spec's default 30s
// navigate timeout (spec.md §5).
func NewChromeBrowser() *ChromeBrowser {
	return &ChromeBrowser{Width: 1440, Height: 900, Timeout: 30 * time.Second}
}

func (b *ChromeBrowser) Navigate(ctx context.Context, rawURL string) (NavigateResult, error) {
	width, height := b.Width, b.Height
	if width <= 0 {
		width = 1440
	}
	if height <= 0 {
		height = 900
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	var html string
	var title string
	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.FullScreenshot(&png, 90),
	}
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return NavigateResult{}, apperr.Wrap(apperr.KindProcessing, "headless browser navigate failed", err)
	}
	return NavigateResult{FinalURL: rawURL, HTML: html, Screenshot: png, Title: title}, nil
}

// HTTPBrowser is a no-JS alternative to ChromeBrowser: a plain GET followed
// by charset-aware decoding to UTF-8, for sources that don't need rendering
// (and for tests/CLI use that can't spin up a headless Chrome). Grounded on
// the teacher's internal/tools/web.Fetcher.FetchMarkdown request shape,
// without its markdown conversion since that belongs to ExtractArticle here.
type HTTPBrowser struct {
	Client   *http.Client
	MaxBytes int64
}

// NewHTTPBrowser constructs an HTTPBrowser with the teacher's Fetcher
// defaults: 20s timeout, 8MB body cap.
func NewHTTPBrowser() *HTTPBrowser {
	return &HTTPBrowser{Client: &http.Client{Timeout: 20 * time.Second}, MaxBytes: 8 * 1000 * 1000}
}

func (b *HTTPBrowser) Navigate(ctx context.Context, rawURL string) (NavigateResult, error) {
	client := b.Client
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	maxBytes := b.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 8 * 1000 * 1000
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return NavigateResult{}, apperr.Wrap(apperr.KindValidation, "malformed url", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return NavigateResult{}, apperr.Wrap(apperr.KindProcessing, "http fetch failed", err)
	}
	defer resp.Body.Close()

	_, charsetLabel := parseContentType(resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return NavigateResult{}, apperr.Wrap(apperr.KindProcessing, "read response body failed", err)
	}
	if int64(len(body)) > maxBytes {
		return NavigateResult{}, apperr.New(apperr.KindProcessing, "response exceeds max bytes")
	}

	utf8Body, err := ToUTF8(body, charsetLabel)
	if err != nil {
		return NavigateResult{}, apperr.Wrap(apperr.KindProcessing, "charset decode failed", err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return NavigateResult{FinalURL: finalURL, HTML: string(utf8Body)}, nil
}

// parseContentType splits a Content-Type header into its lowercased media
// type and charset parameter, following the teacher's fetch.go.
func parseContentType(h string) (ctype, charsetLabel string) {
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return strings.ToLower(h), ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

// ValidateURL enforces spec.md §4.2 stage 1's URL guard: scheme must be
// http/https, host must be present, and the host must not resolve to
// localhost, loopback, private, link-local, multicast, or unspecified
// addresses (an SSRF guard against the ingestion worker fetching internal
// network targets on a user's behalf).
func ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "malformed url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.New(apperr.KindValidation, fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	host := u.Hostname()
	if host == "" {
		return nil, apperr.New(apperr.KindValidation, "url has no host")
	}
	if strings.EqualFold(host, "localhost") {
		return nil, apperr.New(apperr.KindValidation, "url host is localhost")
	}
	if ip := net.ParseIP(host); ip != nil {
		if err := rejectDisallowedIP(ip); err != nil {
			return nil, err
		}
		return u, nil
	}
	// Hostname, not a literal IP: resolve and check every address, since a
	// DNS name can still point at an internal address (DNS rebinding).
	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable hosts are not disallowed by shape; let the fetch
		// itself fail later with a Processing-kind error.
		return u, nil
	}
	for _, ip := range ips {
		if err := rejectDisallowedIP(ip); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func rejectDisallowedIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return apperr.New(apperr.KindValidation, "url host resolves to a loopback address")
	case ip.IsPrivate():
		return apperr.New(apperr.KindValidation, "url host resolves to a private address")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return apperr.New(apperr.KindValidation, "url host resolves to a link-local address")
	case ip.IsMulticast():
		return apperr.New(apperr.KindValidation, "url host resolves to a multicast address")
	case ip.IsUnspecified():
		return apperr.New(apperr.KindValidation, "url host resolves to an unspecified address")
	}
	return nil
}

// ExtractArticle turns rendered HTML into (title, markdown) using the
// readability algorithm for main-content extraction, falling back to
// converting the full document when no article content is found.
func ExtractArticle(finalURL, html string) (title, markdown string, usedReadability bool, err error) {
	base, _ := url.Parse(finalURL)
	articleHTML := html
	if art, rerr := readability.FromReader(strings.NewReader(html), base); rerr == nil && strings.TrimSpace(art.Content) != "" {
		articleHTML = art.Content
		title = strings.TrimSpace(art.Title)
		usedReadability = true
	}

	origin := ""
	if base != nil && base.Scheme != "" && base.Host != "" {
		origin = base.Scheme + "://" + base.Host
	}
	md, mdErr := htmltomarkdown.ConvertString(articleHTML, converter.WithDomain(origin))
	if mdErr != nil {
		return "", "", false, apperr.Wrap(apperr.KindProcessing, "html to markdown conversion failed", mdErr)
	}
	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(strings.TrimLeft(md, "\n"), "# ") {
		md = "# " + title + "\n\n" + md
	}
	return title, md, usedReadability, nil
}

// ToUTF8 normalizes a byte slice to UTF-8 given its declared charset label,
// a no-op when the label is empty or already utf-8.
func ToUTF8(b []byte, charsetLabel string) ([]byte, error) {
	if charsetLabel == "" || strings.EqualFold(charsetLabel, "utf-8") || strings.EqualFold(charsetLabel, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(charsetLabel, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

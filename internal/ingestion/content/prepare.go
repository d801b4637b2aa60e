// Package content implements spec.md §4.2 stage 1 (Prepare Content):
// dispatching an IngestionPayload's Text/URL/File branch into a normalized
// domain.TextContent. Grounded on the teacher's internal/rag/ingest/preprocess.go
// for the dispatch shape, wired against internal/webfetch (URL branch) and
// internal/objectstore (file/screenshot branches).
package content

import (
	"bytes"
	"context"
	"io"
	"strings"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/objectstore"
	"knowledgecore/internal/webfetch"
)

// supportedFileMIMEs are read as UTF-8 text verbatim (spec.md §4.2 stage 1).
// Future types (PDF, image OCR) reserve the same dispatch shape.
var supportedFileMIMEs = map[string]bool{
	"text/plain":               true,
	"text/markdown":            true,
	"text/x-rust":              true,
	"application/octet-stream": true,
}

// Deps are the external collaborators the Prepare stage needs. Browser and
// Objects may be nil when payload.Kind is PayloadText, which needs neither.
type Deps struct {
	Browser webfetch.Browser
	Objects objectstore.ObjectStore
}

// Prepare dispatches payload into a domain.TextContent. contentID and
// screenshotKey are deterministic ids derived from the owning task, so a
// retry overwrites rather than duplicates (spec.md §4.2 "idempotent on retry").
func Prepare(ctx context.Context, contentID, screenshotKey string, payload domain.IngestionPayload, deps Deps) (domain.TextContent, error) {
	switch payload.Kind {
	case domain.PayloadText:
		return prepareText(contentID, payload)
	case domain.PayloadURL:
		return prepareURL(ctx, contentID, screenshotKey, payload, deps)
	case domain.PayloadFile:
		return prepareFile(ctx, contentID, payload, deps)
	default:
		return domain.TextContent{}, apperr.New(apperr.KindValidation, "unknown payload kind")
	}
}

func prepareText(contentID string, payload domain.IngestionPayload) (domain.TextContent, error) {
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return domain.TextContent{}, apperr.New(apperr.KindValidation, "text payload is empty")
	}
	return domain.TextContent{
		ID:       contentID,
		UserID:   payload.UserID,
		Text:     text,
		Category: payload.Category,
		Context:  payload.Context,
	}, nil
}

// prepareURL fetches, screenshots, and extracts the article body for a URL
// payload (spec.md §4.2 stage 1, URL branch).
func prepareURL(ctx context.Context, contentID, screenshotKey string, payload domain.IngestionPayload, deps Deps) (domain.TextContent, error) {
	validated, err := webfetch.ValidateURL(payload.URL)
	if err != nil {
		return domain.TextContent{}, err
	}

	nav, err := deps.Browser.Navigate(ctx, validated.String())
	if err != nil {
		return domain.TextContent{}, err
	}

	// Screenshot is written before article extraction can fail; on a later
	// stage failure a retry re-Puts the same deterministic key, so the
	// object is overwritten rather than orphaned on the next attempt (not
	// immediately compensated -- accepted per spec.md §9).
	if len(nav.Screenshot) > 0 && deps.Objects != nil {
		if _, err := deps.Objects.Put(ctx, screenshotKey, bytes.NewReader(nav.Screenshot), objectstore.PutOptions{ContentType: "image/png"}); err != nil {
			return domain.TextContent{}, apperr.Wrap(apperr.KindProcessing, "storing screenshot failed", err)
		}
	}

	title, markdown, _, err := webfetch.ExtractArticle(nav.FinalURL, nav.HTML)
	if err != nil {
		return domain.TextContent{}, err
	}
	if strings.TrimSpace(markdown) == "" {
		return domain.TextContent{}, apperr.New(apperr.KindValidation, "url produced no extractable content")
	}
	if title == "" {
		title = nav.Title
	}

	return domain.TextContent{
		ID:       contentID,
		UserID:   payload.UserID,
		Text:     markdown,
		Category: payload.Category,
		Context:  payload.Context,
		URL:      &domain.URLInfo{URL: nav.FinalURL, Title: title, ScreenshotID: screenshotKey},
	}, nil
}

// prepareFile reads an uploaded file's object and decodes it as UTF-8 text,
// rejecting unsupported MIME types (spec.md §4.2 stage 1, File branch).
func prepareFile(ctx context.Context, contentID string, payload domain.IngestionPayload, deps Deps) (domain.TextContent, error) {
	if !supportedFileMIMEs[payload.FileMIME] {
		return domain.TextContent{}, apperr.New(apperr.KindNotFound, "unsupported file mime type: "+payload.FileMIME)
	}
	rc, _, err := deps.Objects.Get(ctx, payload.ObjectID)
	if err != nil {
		return domain.TextContent{}, apperr.Wrap(apperr.KindProcessing, "reading uploaded file failed", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return domain.TextContent{}, apperr.Wrap(apperr.KindProcessing, "reading uploaded file failed", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return domain.TextContent{}, apperr.New(apperr.KindValidation, "file payload is empty")
	}

	return domain.TextContent{
		ID:       contentID,
		UserID:   payload.UserID,
		Text:     text,
		Category: payload.Category,
		Context:  payload.Context,
		File:     &domain.FileInfo{Name: payload.FileName, MIME: payload.FileMIME, ObjectID: payload.ObjectID},
	}, nil
}

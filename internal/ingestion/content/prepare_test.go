package content

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgecore/internal/apperr"
	"knowledgecore/internal/domain"
	"knowledgecore/internal/objectstore"
	"knowledgecore/internal/webfetch"
)

func TestPrepare_Text_TrimsAndRejectsEmpty(t *testing.T) {
	tc, err := Prepare(context.Background(), "id1", "", domain.IngestionPayload{Kind: domain.PayloadText, Text: "  hello  "}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "hello", tc.Text)

	_, err = Prepare(context.Background(), "id1", "", domain.IngestionPayload{Kind: domain.PayloadText, Text: "   "}, Deps{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

type fakeBrowser struct {
	result webfetch.NavigateResult
	err    error
}

func (f fakeBrowser) Navigate(context.Context, string) (webfetch.NavigateResult, error) {
	return f.result, f.err
}

type fakeObjects struct {
	objectstore.ObjectStore
	putCalled bool
	getBody   string
}

func (f *fakeObjects) Put(context.Context, string, io.Reader, objectstore.PutOptions) (string, error) {
	f.putCalled = true
	return "etag", nil
}

func (f *fakeObjects) Get(context.Context, string) (io.ReadCloser, objectstore.ObjectAttrs, error) {
	return io.NopCloser(strings.NewReader(f.getBody)), objectstore.ObjectAttrs{}, nil
}

func TestPrepare_URL_RejectsDisallowedHost(t *testing.T) {
	_, err := Prepare(context.Background(), "id1", "shot1", domain.IngestionPayload{Kind: domain.PayloadURL, URL: "http://localhost/x"}, Deps{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestPrepare_URL_ExtractsArticleAndStoresScreenshot(t *testing.T) {
	objs := &fakeObjects{}
	deps := Deps{
		Browser: fakeBrowser{result: webfetch.NavigateResult{
			FinalURL:   "https://example.com/a",
			HTML:       "<html><body><article><h1>T</h1><p>Body text here.</p></article></body></html>",
			Screenshot: []byte{1, 2, 3},
			Title:      "T",
		}},
		Objects: objs,
	}
	tc, err := Prepare(context.Background(), "id1", "shot1", domain.IngestionPayload{Kind: domain.PayloadURL, URL: "https://example.com/a"}, deps)
	require.NoError(t, err)
	assert.True(t, objs.putCalled)
	require.NotNil(t, tc.URL)
	assert.Equal(t, "shot1", tc.URL.ScreenshotID)
	assert.NotEmpty(t, tc.Text)
}

func TestPrepare_URL_PropagatesNavigateError(t *testing.T) {
	deps := Deps{Browser: fakeBrowser{err: errors.New("boom")}}
	_, err := Prepare(context.Background(), "id1", "shot1", domain.IngestionPayload{Kind: domain.PayloadURL, URL: "https://example.com"}, deps)
	require.Error(t, err)
}

func TestPrepare_File_RejectsUnsupportedMIME(t *testing.T) {
	_, err := Prepare(context.Background(), "id1", "", domain.IngestionPayload{
		Kind: domain.PayloadFile, FileMIME: "application/pdf", ObjectID: "o1",
	}, Deps{Objects: &fakeObjects{}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestPrepare_File_ReadsSupportedMIMEAsUTF8(t *testing.T) {
	tc, err := Prepare(context.Background(), "id1", "", domain.IngestionPayload{
		Kind: domain.PayloadFile, FileMIME: "text/plain", ObjectID: "o1", FileName: "notes.txt",
	}, Deps{Objects: &fakeObjects{getBody: "file contents"}})
	require.NoError(t, err)
	assert.Equal(t, "file contents", tc.Text)
	require.NotNil(t, tc.File)
	assert.Equal(t, "notes.txt", tc.File.Name)
}

var _ = time.Second

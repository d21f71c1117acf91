package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igpost/internal/authflow"
	"igpost/internal/insta"
	"igpost/internal/upload"
)

type fakeClient struct {
	account    *insta.Account
	accountErr error

	media      *insta.Media
	publishErr error

	publishedPath    string
	publishedCaption string
}

func (f *fakeClient) AccountInfo(_ context.Context) (*insta.Account, error) {
	if f.accountErr != nil {
		return nil, f.accountErr
	}

	return f.account, nil
}

func (f *fakeClient) PublishVideo(_ context.Context, path, caption string) (*insta.Media, error) {
	f.publishedPath = path
	f.publishedCaption = caption

	if f.publishErr != nil {
		return nil, f.publishErr
	}

	return f.media, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, client *fakeClient, authErr error, opts ...Option) http.Handler {
	t.Helper()

	auth := func(_ context.Context) (Client, error) {
		if authErr != nil {
			return nil, authErr
		}

		return client, nil
	}

	return NewServer(auth, testLogger(), opts...).Handler()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return body
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(t, &fakeClient{}, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestProfile(t *testing.T) {
	client := &fakeClient{account: &insta.Account{Username: "alice", MediaCount: 7}}
	handler := newTestServer(t, client, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var account insta.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.Equal(t, "alice", account.Username)
	assert.Equal(t, int64(7), account.MediaCount)
}

func TestProfile_AuthFailure(t *testing.T) {
	handler := newTestServer(t, nil, authflow.ErrNoCredentials)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "no credentials")
}

func TestProfile_PlatformError(t *testing.T) {
	client := &fakeClient{accountErr: &insta.APIError{StatusCode: 500, Err: insta.ErrServerError}}
	handler := newTestServer(t, client, nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUpload_JSONPath(t *testing.T) {
	videoPath := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("bytes"), 0o644))

	client := &fakeClient{media: &insta.Media{ID: "1", Code: "ABC123"}}
	handler := newTestServer(t, client, nil)

	body := fmt.Sprintf(`{"video":%q,"description":"hello"}`, videoPath)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://www.instagram.com/p/ABC123/", decodeBody(t, rec)["url"])
	assert.Equal(t, videoPath, client.publishedPath)
	assert.Equal(t, "hello", client.publishedCaption)
}

func TestUpload_Multipart(t *testing.T) {
	client := &fakeClient{media: &insta.Media{Code: "XYZ789"}}
	handler := newTestServer(t, client, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("video", "clip.mp4")
	require.NoError(t, err)
	_, err = part.Write([]byte("fake mp4 bytes"))
	require.NoError(t, err)

	require.NoError(t, mw.WriteField("description", "from the browser"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://www.instagram.com/p/XYZ789/", decodeBody(t, rec)["url"])
	assert.Equal(t, "from the browser", client.publishedCaption)

	// The stream is materialized to a temp file before publishing, and the
	// temp file is gone once the request finishes.
	assert.NotEmpty(t, client.publishedPath)
	_, statErr := os.Stat(client.publishedPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestUpload_MissingCaption(t *testing.T) {
	videoPath := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("bytes"), 0o644))

	handler := newTestServer(t, &fakeClient{}, nil)

	body := fmt.Sprintf(`{"video":%q}`, videoPath)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_NoSource(t *testing.T) {
	handler := newTestServer(t, &fakeClient{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(`{"description":"x"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_SourceNotFound(t *testing.T) {
	handler := newTestServer(t, &fakeClient{}, nil)

	body := fmt.Sprintf(`{"video":%q,"description":"x"}`, filepath.Join(t.TempDir(), "nope.mp4"))
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_InvalidJSON(t *testing.T) {
	handler := newTestServer(t, &fakeClient{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("not json"))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpload_PlatformRejection(t *testing.T) {
	videoPath := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("bytes"), 0o644))

	client := &fakeClient{publishErr: &insta.APIError{StatusCode: 429, Err: insta.ErrThrottled}}
	handler := newTestServer(t, client, nil)

	body := fmt.Sprintf(`{"video":%q,"description":"x"}`, videoPath)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

type recordedPost struct {
	code, url, caption, source string
}

type fakeRecorder struct {
	posts []recordedPost
}

var _ upload.Recorder = (*fakeRecorder)(nil)

func (f *fakeRecorder) Record(_ context.Context, code, url, caption, source string) error {
	f.posts = append(f.posts, recordedPost{code, url, caption, source})
	return nil
}

func TestUpload_RecordsHistory(t *testing.T) {
	videoPath := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("bytes"), 0o644))

	recorder := &fakeRecorder{}
	client := &fakeClient{media: &insta.Media{Code: "ABC123"}}
	handler := newTestServer(t, client, nil, WithRecorder(recorder))

	body := fmt.Sprintf(`{"video":%q,"description":"hello"}`, videoPath)
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, recorder.posts, 1)
	assert.Equal(t, "ABC123", recorder.posts[0].code)
	assert.Equal(t, videoPath, recorder.posts[0].source)
}

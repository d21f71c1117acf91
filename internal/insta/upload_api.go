package insta

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// PublishVideo uploads the video at path as a clip with the given caption
// and returns the created media. Uploads are a single attempt — the retry
// loop in do() is for small idempotent requests, not multi-megabyte POSTs.
func (c *Client) PublishVideo(ctx context.Context, path, caption string) (*Media, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("insta: opening video: %w", err)
	}
	defer f.Close()

	c.logger.Info("uploading clip",
		slog.String("path", path),
		slog.Int("caption_len", len(caption)),
	)

	if err := c.delay(ctx); err != nil {
		return nil, fmt.Errorf("insta: upload canceled: %w", err)
	}

	// Stream the multipart body instead of buffering the whole video.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeClipForm(mw, f, filepath.Base(path), caption))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clips/upload/", pr)
	if err != nil {
		return nil, fmt.Errorf("insta: building upload request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if auth := c.authorization(); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	if sid, _ := c.settings[settingsKeySessionID].(string); sid != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: sid})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("insta: clip upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("insta: reading upload response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var envelope apiResponse
		_ = json.Unmarshal(data, &envelope)

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    envelope.Message,
			Err:        classifyResponse(resp.StatusCode, envelope.Message),
		}
	}

	var parsed publishResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("insta: decoding upload response: %w", err)
	}

	if parsed.Media == nil {
		c.logger.Info("clip accepted without media in response")
		return &Media{}, nil
	}

	c.logger.Info("clip upload succeeded",
		slog.String("media_id", parsed.Media.ID),
		slog.String("code", parsed.Media.Code),
	)

	return parsed.Media, nil
}

// writeClipForm writes the caption field and video part to the multipart
// writer, closing it so the terminating boundary is emitted.
func writeClipForm(mw *multipart.Writer, video io.Reader, filename, caption string) error {
	if err := mw.WriteField("caption", caption); err != nil {
		return fmt.Errorf("writing caption field: %w", err)
	}

	part, err := mw.CreateFormFile("video", filename)
	if err != nil {
		return fmt.Errorf("creating video part: %w", err)
	}

	if _, err := io.Copy(part, video); err != nil {
		return fmt.Errorf("copying video data: %w", err)
	}

	return mw.Close()
}

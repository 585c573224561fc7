package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"reelchain/internal/services"
)

// Fetch downloads ref into dest. The file is written beside dest and renamed
// into place so a partial download never appears at dest.
func (c *Client) Fetch(ctx context.Context, ref ArtifactRef, dest string) error {
	if strings.TrimSpace(ref.Filename) == "" {
		return services.Wrap(services.ErrArtifactMissing, component, "fetch", "artifact has no filename", nil)
	}
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("type", defaultString(ref.Type, "output"))
	if ref.Subfolder != "" {
		query.Set("subfolder", ref.Subfolder)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.transferTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.endpoint("/view", query), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.do(ctx, req, "fetch")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	written, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return services.Wrap(services.ErrServiceUnreachable, component, "fetch", "download interrupted", copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close temp artifact: %w", closeErr)
	}
	if written == 0 {
		return services.Wrap(services.ErrArtifactMissing, component, "fetch", "server returned an empty artifact", nil)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("finalize artifact: %w", err)
	}
	return nil
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// UploadImage sends a local image to the server's input folder under
// remoteName (the local base name when empty) and returns the name a
// LoadImage node should reference. Existing files with that name are
// replaced.
func (c *Client) UploadImage(ctx context.Context, imagePath, remoteName, subfolder string) (string, error) {
	remoteName = strings.TrimSpace(remoteName)
	if remoteName == "" {
		remoteName = filepath.Base(imagePath)
	}
	file, err := os.Open(imagePath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "upload", "open start image", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", remoteName)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy image: %w", err)
	}
	if err := writer.WriteField("overwrite", "true"); err != nil {
		return "", fmt.Errorf("write form field: %w", err)
	}
	if subfolder = strings.Trim(strings.TrimSpace(subfolder), "/"); subfolder != "" {
		if err := writer.WriteField("subfolder", subfolder); err != nil {
			return "", fmt.Errorf("write form field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.transferTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint("/upload/image", nil), &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.do(ctx, req, "upload")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", services.Wrap(services.ErrServiceRejected, component, "upload", "decode response", err)
	}
	name := defaultString(strings.TrimSpace(payload.Name), remoteName)
	if sub := strings.Trim(payload.Subfolder, "/"); sub != "" {
		return sub + "/" + name, nil
	}
	return name, nil
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

type ImageType string

const (
	InputImageType  ImageType = "input"
	TempImageType   ImageType = "temp"
	OutputImageType ImageType = "output"
)

// UploadFileFromReader stores a file in the server's input folder. It returns the
// name the server chose, which may differ from filename.
func (c *ComfyClient) UploadFileFromReader(ctx context.Context, r io.Reader, filename string, overwrite bool, filetype ImageType, subfolder string) (string, error) {
	// Create a buffer to store the request body
	var requestBody bytes.Buffer

	// Create a multipart writer to wrap the file (like FormData)
	writer := multipart.NewWriter(&requestBody)

	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(formFile, r); err != nil {
		return "", err
	}

	_ = writer.WriteField("overwrite", fmt.Sprintf("%v", overwrite))
	_ = writer.WriteField("type", string(filetype))
	if subfolder != "" {
		_ = writer.WriteField("subfolder", subfolder)
	}

	// Close the writer to finalize the body content
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/upload/image", nil), &requestBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("error: %d - %s", resp.StatusCode, resp.Status)
	}

	var data struct {
		Name      string `json:"name"`
		Subfolder string `json:"subfolder"`
		Type      string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}
	if data.Name == "" {
		return "", fmt.Errorf("invalid response format")
	}
	if data.Subfolder != "" {
		return data.Subfolder + "/" + data.Name, nil
	}
	return data.Name, nil
}

func (c *ComfyClient) UploadFileFromPath(ctx context.Context, filePath string, overwrite bool, filetype ImageType, subfolder string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return c.UploadFileFromReader(ctx, file, filepath.Base(filePath), overwrite, filetype, subfolder)
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/rollcall/internal/types"
)

const defaultEngineURL = "http://localhost:8000"

// HTTPClient talks to an inference server exposing /detect, /embed and /verify.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the inference server at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultEngineURL
	}
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type formFile struct {
	field string
	data  []byte
}

// postMultipart posts the given files as a multipart form and decodes the JSON reply.
func (c *HTTPClient) postMultipart(ctx context.Context, endpoint string, files ...formFile) (*types.InferenceResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.field+".jpg")
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(f.data); err != nil {
			return nil, fmt.Errorf("failed to write image data: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result types.InferenceResult
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("inference server error: %s", result.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return &result, nil
}

func (c *HTTPClient) Detect(ctx context.Context, image []byte) ([]types.Box, error) {
	res, err := c.postMultipart(ctx, "/detect", formFile{"image", image})
	if err != nil {
		return nil, err
	}
	return res.BoxList(), nil
}

func (c *HTTPClient) Embed(ctx context.Context, image []byte) ([]float32, error) {
	res, err := c.postMultipart(ctx, "/embed", formFile{"image", image})
	if err != nil {
		return nil, err
	}
	if len(res.Vec) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return res.Vec, nil
}

func (c *HTTPClient) Verify(ctx context.Context, a, b []byte) (types.Verification, error) {
	res, err := c.postMultipart(ctx, "/verify", formFile{"image_a", a}, formFile{"image_b", b})
	if err != nil {
		return types.Verification{}, err
	}
	return types.Verification{Verified: res.Verified, Distance: res.Distance}, nil
}

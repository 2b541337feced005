package compreface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"

	"facewatch/config"

	log "github.com/sirupsen/logrus"
)

// CompreFace meldet "kein Gesicht" als HTTP 400 mit diesem Code
const codeNoFaceFound = 28

// Client für die CompreFace-Detection-API
type Client struct {
	config     config.CompreFaceConfig
	httpClient *http.Client
}

// Box repräsentiert die Begrenzungsbox eines Gesichts
type Box struct {
	Probability float64 `json:"probability"`
	XMin        int     `json:"x_min"`
	YMin        int     `json:"y_min"`
	XMax        int     `json:"x_max"`
	YMax        int     `json:"y_max"`
}

// DetectionResult ist ein gefundenes Gesicht; Embedding liefert das calculator-Plugin
type DetectionResult struct {
	Box       Box       `json:"box"`
	Embedding []float32 `json:"embedding"`
}

// DetectionResponse repräsentiert die Antwort von /api/v1/detection/detect
type DetectionResponse struct {
	Result []DetectionResult `json:"result"`
}

type errorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewClient erstellt einen neuen CompreFace-Client
func NewClient(cfg config.CompreFaceConfig) *Client {
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Ping prüft, ob der CompreFace-Dienst erreichbar ist
func (c *Client) Ping(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.URL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		log.Warnf("CompreFace connection test failed (status %d)", resp.StatusCode)
		return false, nil
	}
	return true, nil
}

// Detect sendet ein Bild an den Detection-Dienst. Ein Bild ohne Gesicht ergibt eine leere Antwort.
func (c *Client) Detect(ctx context.Context, img image.Image) (*DetectionResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/detection/detect")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}
	query := url.Values{}
	query.Set("face_plugins", "calculator")
	query.Set("det_prob_threshold", strconv.FormatFloat(c.config.DetProbThreshold, 'f', 2, 64))
	apiURL += "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.config.DetectionAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Code == codeNoFaceFound {
			return &DetectionResponse{}, nil
		}
		return nil, fmt.Errorf("CompreFace API error (status %d): %s", resp.StatusCode, truncate(respBody, 512))
	}

	var result DetectionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

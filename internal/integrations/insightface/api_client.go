package insightface

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

// Log-Felder für InsightFace-Komponente
var logFields = log.Fields{
	"component": "insightface",
}

// APIClient spricht die REST-Schnittstelle eines InsightFace-Dienstes an
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

type apiInfoResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Backend   string   `json:"backend"`
	Providers []string `json:"providers"`
}

type apiFace struct {
	BoundingBox []int     `json:"bbox"`
	Confidence  float64   `json:"confidence"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

type apiDetectResponse struct {
	Status      string    `json:"status"`
	FacesCount  int       `json:"faces_count"`
	Faces       []apiFace `json:"faces"`
	ProcessTime float64   `json:"process_time"`
}

// detectRequest sind die Formularfelder von /detect
type detectRequest struct {
	threshold float64
	embedding bool
}

func (r detectRequest) fields() map[string]string {
	return map[string]string{
		"threshold":         strconv.FormatFloat(r.threshold, 'f', 3, 64),
		"return_face_data":  "false",
		"extract_embedding": strconv.FormatBool(r.embedding),
	}
}

// NewAPIClient erstellt einen neuen InsightFace-APIClient
func NewAPIClient(cfg config.InsightFaceConfig) *APIClient {
	return &APIClient{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *APIClient) endpoint(name string) (string, error) {
	return url.JoinPath(c.baseURL, name)
}

// Ping fragt /info ab
func (c *APIClient) Ping(ctx context.Context) (bool, error) {
	infoURL, err := c.endpoint("info")
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("InsightFace not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("InsightFace info returned status %d", resp.StatusCode)
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return false, fmt.Errorf("decode info response: %w", err)
	}
	log.WithFields(logFields).Debugf("InsightFace %s (%s) reachable", info.Version, info.Backend)
	return info.Status == "ok", nil
}

// buildDetectForm schreibt Bild und Felder als multipart/form-data
func buildDetectForm(img image.Image, r detectRequest) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, "", err
	}
	if err := jpeg.Encode(part, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	for k, v := range r.fields() {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

// detect sendet ein Bild an /detect
func (c *APIClient) detect(ctx context.Context, img image.Image, r detectRequest) (*apiDetectResponse, error) {
	body, contentType, err := buildDetectForm(img, r)
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	detectURL, err := c.endpoint("detect")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, detectURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("detect returned status %d: %s", resp.StatusCode, msg)
	}

	var out apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detect response: %w", err)
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("InsightFace error status %q", out.Status)
	}
	return &out, nil
}

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"extractkit/internal/imageio"
)

// Invocation modes understood by the inference service.
const (
	ModePredictImages = "predict_images"
	ModeProcess       = "process"
)

// Client talks to the model inference service that hosts the detection and
// recognition models:
//
//	POST {base}/v1/engines/{id}/predict
//	  file:   the input document
//	  params: {"mode": "...", "visualize": bool, "config": {...}}
//
// The answer carries per-page results or a single result, plus artifacts
// (visualizations, text dumps) the client writes into the caller's output dir.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
}

// NewClient creates a Client for the inference service at baseURL. A non-empty
// apiKey is sent as a bearer token.
func NewClient(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("engine: baseURL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("engine: parse baseURL: %w", err)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := cfg.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.timeout > 0 {
		c := *httpClient
		c.Timeout = cfg.timeout
		httpClient = &c
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the client's own copy of the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		if d < 0 {
			return fmt.Errorf("engine: negative timeout %s", d)
		}
		cfg.timeout = d
		return nil
	}
}

// Artifact is a file produced by a remote engine. Data is base64 on the wire.
type Artifact struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

// Prediction is the decoded answer of one predict call.
type Prediction struct {
	Results   []Result
	Result    Result
	Artifacts []Artifact
}

type predictParams struct {
	Mode      string         `json:"mode"`
	Visualize bool           `json:"visualize"`
	Config    map[string]any `json:"config"`
}

type predictResponse struct {
	Results   []json.RawMessage `json:"results"`
	Result    json.RawMessage   `json:"result"`
	Artifacts []Artifact        `json:"artifacts"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Predict uploads inputPath to engine id and decodes the answer. TIFF inputs
// are sent as PNG.
func (c *Client) Predict(ctx context.Context, id, mode, inputPath string, cfg map[string]any, visualize bool) (*Prediction, error) {
	operation := "predict " + id
	body, contentType, err := c.encodeRequest(inputPath, predictParams{Mode: mode, Visualize: visualize, Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	u := fmt.Sprintf("%s/v1/engines/%s/predict", c.baseURL, url.PathEscape(id))

	var raw predictResponse
	if err := c.do(ctx, http.MethodPost, u, operation, contentType, body, &raw); err != nil {
		c.logFailure(ctx, err)
		return nil, err
	}

	p := &Prediction{Artifacts: raw.Artifacts}
	for _, r := range raw.Results {
		p.Results = append(p.Results, decodeResult(r))
	}
	if len(raw.Result) > 0 {
		p.Result = decodeResult(raw.Result)
	}
	return p, nil
}

// logFailure records a rejected call with a hint for the common causes.
func (c *Client) logFailure(ctx context.Context, err error) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return
	}
	attrs := []any{"operation", apiErr.Operation(), "status", apiErr.StatusCode(), "message", apiErr.Message()}
	switch {
	case IsUnauthorized(err):
		attrs = append(attrs, "hint", "check engines.api_key")
	case IsNotFound(err):
		attrs = append(attrs, "hint", "engine is not served by the inference service")
	}
	c.logger.WarnContext(ctx, "inference call rejected", attrs...)
}

// Health checks that the inference service answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/health", "health", "", nil, nil)
}

func (c *Client) encodeRequest(inputPath string, params predictParams) (io.Reader, string, error) {
	name := filepath.Base(inputPath)
	var data []byte
	var err error
	if imageio.IsTIFF(inputPath) {
		data, err = imageio.TranscodePNG(inputPath)
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
	} else {
		data, err = os.ReadFile(inputPath)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read input: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	pj, err := json.Marshal(params)
	if err != nil {
		return nil, "", fmt.Errorf("encode params: %w", err)
	}
	if err := mw.WriteField("params", string(pj)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// do executes an HTTP request and decodes the JSON response into dst.
// If the response has an error status, it returns an *APIError.
func (c *Client) do(ctx context.Context, method, u, operation, contentType string, body io.Reader, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	c.logger.InfoContext(ctx, "inference request", "operation", operation, "method", method, "url", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "inference response", "operation", operation,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var errRS errorResponse
		if json.Unmarshal(respBody, &errRS) == nil {
			if msg := firstNonEmpty(errRS.Detail, errRS.Error); msg != "" {
				return newAPIError(operation, resp.StatusCode, msg)
			}
		}
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = resp.Status
		}
		return newAPIError(operation, resp.StatusCode, msg)
	}

	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			return fmt.Errorf("%s: decode response: %w", operation, err)
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// decodeResult decides the result variant once: an object carrying a boxes
// key is Detections, anything else is Opaque.
func decodeResult(raw json.RawMessage) Result {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) == nil {
		if _, ok := fields["boxes"]; ok {
			var d struct {
				Boxes   [][]float64 `json:"boxes"`
				Classes []float64   `json:"classes"`
				Scores  []float64   `json:"scores"`
			}
			if json.Unmarshal(raw, &d) == nil {
				return Detections{Boxes: d.Boxes, Classes: d.Classes, Scores: d.Scores}
			}
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return Opaque{}
	}
	return Opaque{Value: v}
}

// WriteArtifacts stores artifacts under dir. Paths must stay inside dir.
func WriteArtifacts(dir string, artifacts []Artifact) error {
	for _, a := range artifacts {
		rel := filepath.FromSlash(a.Path)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("write artifact: path %q escapes output dir", a.Path)
		}
		dst := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("write artifact %s: %w", a.Path, err)
		}
		if err := os.WriteFile(dst, a.Data, 0o644); err != nil {
			return fmt.Errorf("write artifact %s: %w", a.Path, err)
		}
	}
	return nil
}

// RemoteDetector runs a detection engine hosted by the inference service.
type RemoteDetector struct {
	client *Client
	id     string
	cfg    map[string]any
}

func (d *RemoteDetector) Name() string { return d.id }

// PredictImages returns one result per page and writes any returned
// visualizations into outputDir.
func (d *RemoteDetector) PredictImages(ctx context.Context, inputPath, outputDir string) ([]Result, error) {
	visualize, _ := d.cfg["visualize"].(bool)
	p, err := d.client.Predict(ctx, d.id, ModePredictImages, inputPath, d.cfg, visualize)
	if err != nil {
		return nil, err
	}
	if err := WriteArtifacts(outputDir, p.Artifacts); err != nil {
		return nil, err
	}
	return p.Results, nil
}

// RemoteProcessor runs a recognition engine hosted by the inference service.
type RemoteProcessor struct {
	client *Client
	id     string
	cfg    map[string]any
}

func (p *RemoteProcessor) Name() string { return p.id }

func (p *RemoteProcessor) Process(ctx context.Context, inputPath, saveDir string, visualize bool) (Result, error) {
	pred, err := p.client.Predict(ctx, p.id, ModeProcess, inputPath, p.cfg, visualize)
	if err != nil {
		return nil, err
	}
	if err := WriteArtifacts(saveDir, pred.Artifacts); err != nil {
		return nil, err
	}
	if pred.Result == nil {
		return Opaque{}, nil
	}
	return pred.Result, nil
}

// DetectorFactory returns a Factory producing RemoteDetectors for id.
func (c *Client) DetectorFactory(id string) Factory {
	return func(cfg map[string]any) (Engine, error) {
		return &RemoteDetector{client: c, id: id, cfg: cfg}, nil
	}
}

// ProcessorFactory returns a Factory producing RemoteProcessors for id.
func (c *Client) ProcessorFactory(id string) Factory {
	return func(cfg map[string]any) (Engine, error) {
		return &RemoteProcessor{client: c, id: id, cfg: cfg}, nil
	}
}

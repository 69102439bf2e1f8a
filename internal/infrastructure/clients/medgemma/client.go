// Package medgemma implements the inference provider against a hosted
// MedGemma-style multimodal endpoint.
package medgemma

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/internal/domain/providers"
	"github.com/klenai/stonecare/pkg/config"
	apperrors "github.com/klenai/stonecare/pkg/errors"
)

const defaultModel = "medgemma-4b-it"

// Client calls the inference endpoint with rate limiting and request
// timeouts. Every failure surfaces as an InferenceFailure error, which is
// fatal to the workflow run.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	spacing    [3]float64
	httpClient *http.Client
	limiter    *tokenBucket
}

var _ providers.InferenceProvider = (*Client)(nil)

// NewClient creates a new inference client.
func NewClient(cfg *config.MedGemmaConfig) (*Client, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, errors.New("medgemma base url is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: newTokenBucket(cfg.RateLimitRPM, cfg.RateLimitBurst),
	}, nil
}

type generateRequest struct {
	Model           string   `json:"model"`
	Prompt          string   `json:"prompt"`
	Images          []string `json:"images,omitempty"`
	Modality        string   `json:"modality,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
}

type generateResponse struct {
	Output string `json:"output"`
}

// AnalyzeScan sends the key slices and the detection prompt, then validates
// and normalizes the returned JSON into findings. Malformed responses are
// inference failures, not panics.
func (c *Client) AnalyzeScan(ctx context.Context, req providers.ScanRequest) (*entities.ScanFindings, error) {
	images := make([]string, 0, len(req.Slices))
	for _, slice := range req.Slices {
		images = append(images, base64.StdEncoding.EncodeToString(slice))
	}

	prompt := req.Prompt
	if prompt == "" {
		prompt = ScanAnalysisPrompt
	}

	text, err := c.generate(ctx, generateRequest{
		Model:           c.model,
		Prompt:          prompt,
		Images:          images,
		Modality:        req.Modality,
		MaxOutputTokens: req.MaxOutputTokens,
	})
	if err != nil {
		return nil, err
	}

	spacing := req.Spacing
	if spacing == [3]float64{} {
		spacing = c.spacing
	}
	findings, err := NormalizeScanOutput([]byte(text), spacing)
	if err != nil {
		return nil, apperrors.NewInferenceFailureError("scan analysis response failed schema validation", err)
	}
	return findings, nil
}

// GenerateText produces free text for an education prompt.
func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, generateRequest{
		Model:  c.model,
		Prompt: prompt,
	})
}

// WithSpacing returns a copy of the client that scales voxel-space sizes in
// model output by the given voxel spacing during normalization.
func (c *Client) WithSpacing(spacing [3]float64) *Client {
	clone := *c
	clone.spacing = spacing
	return &clone
}

func (c *Client) generate(ctx context.Context, payload generateRequest) (string, error) {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			recordInferenceMetric(ctx, c.model, 0, 0, err)
			return "", apperrors.NewInferenceFailureError("rate limiter wait aborted", err)
		}
		recordRateLimitWait(ctx, c.model, time.Since(waitStart))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.NewInferenceFailureError("encoding inference request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.NewInferenceFailureError("building inference request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordInferenceMetric(ctx, c.model, 0, time.Since(start), err)
		return "", apperrors.NewInferenceFailureError("inference request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("status %d", resp.StatusCode)
		recordInferenceMetric(ctx, c.model, resp.StatusCode, time.Since(start), statusErr)
		return "", apperrors.NewInferenceFailureError(
			fmt.Sprintf("inference request failed with status %d", resp.StatusCode), nil)
	}

	var envelope generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		recordInferenceMetric(ctx, c.model, resp.StatusCode, time.Since(start), err)
		return "", apperrors.NewInferenceFailureError("decoding inference response", err)
	}
	if envelope.Output == "" {
		err := errors.New("missing output text")
		recordInferenceMetric(ctx, c.model, resp.StatusCode, time.Since(start), err)
		return "", apperrors.NewInferenceFailureError("inference response missing output text", nil)
	}

	recordInferenceMetric(ctx, c.model, resp.StatusCode, time.Since(start), nil)
	return stripCodeFence(envelope.Output), nil
}

// stripCodeFence removes a Markdown code block wrapper if the model added one.
func stripCodeFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimSuffix(cleaned, "```")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
	}
	return strings.TrimSpace(cleaned)
}

func newTokenBucket(rpm int, burst int) *tokenBucket {
	if rpm == 0 {
		rpm = 60
	}
	if rpm < 0 {
		return nil
	}
	if burst <= 0 {
		burst = 5
	}
	return newTokenBucketWithRate(rpm, burst)
}

type tokenBucket struct {
	tokens chan struct{}
}

func newTokenBucketWithRate(rpm int, burst int) *tokenBucket {
	bucket := &tokenBucket{
		tokens: make(chan struct{}, burst),
	}
	for i := 0; i < burst; i++ {
		bucket.tokens <- struct{}{}
	}

	interval := time.Minute / time.Duration(rpm)
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			select {
			case bucket.tokens <- struct{}{}:
			default:
			}
		}
	}()

	return bucket
}

func (b *tokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.tokens:
		return nil
	}
}

type inferenceMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
	rateLimitWait   metric.Float64Histogram
}

var metricsInit = false
var metrics inferenceMetrics

func ensureMetrics() {
	if metricsInit {
		return
	}
	meter := otel.Meter("github.com/klenai/stonecare/medgemma")

	requestCount, err := meter.Int64Counter(
		"ai.inference.request.count",
		metric.WithDescription("Number of inference requests"),
	)
	if err != nil {
		return
	}
	requestDuration, err := meter.Float64Histogram(
		"ai.inference.request.duration",
		metric.WithDescription("Inference request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return
	}
	requestErrors, err := meter.Int64Counter(
		"ai.inference.request.errors",
		metric.WithDescription("Number of inference request errors"),
	)
	if err != nil {
		return
	}
	rateLimitWait, err := meter.Float64Histogram(
		"ai.inference.rate_limit.wait",
		metric.WithDescription("Time spent waiting for the inference rate limiter in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return
	}

	metrics = inferenceMetrics{
		requestCount:    requestCount,
		requestDuration: requestDuration,
		requestErrors:   requestErrors,
		rateLimitWait:   rateLimitWait,
	}
	metricsInit = true
}

func recordInferenceMetric(ctx context.Context, model string, statusCode int, duration time.Duration, err error) {
	ensureMetrics()
	if !metricsInit {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "medgemma"),
		attribute.String("ai.model", model),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}

	metrics.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	metrics.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		metrics.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func recordRateLimitWait(ctx context.Context, model string, wait time.Duration) {
	ensureMetrics()
	if !metricsInit {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("ai.provider", "medgemma"),
		attribute.String("ai.model", model),
	}
	metrics.rateLimitWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(attrs...))
}

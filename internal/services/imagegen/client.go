package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"postforge/internal/config"
	"postforge/internal/logging"
	"postforge/internal/retry"
	"postforge/internal/services"
)

const (
	defaultBaseURL   = "https://stablehorde.net/api/v2"
	anonymousAPIKey  = "0000000000"
	maxImageBytes    = 20 << 20
	clientAgentValue = "postforge:0.1.0:unknown"
)

// Params are the generation settings sent with every job.
type Params struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Steps    int     `json:"steps"`
	CFGScale float64 `json:"cfg_scale"`
	Sampler  string  `json:"sampler_name,omitempty"`
}

// Config holds the client settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Params       Params
	PollInterval time.Duration
	MaxPolls     int
	Timeout      time.Duration
}

// ConfigFrom maps the [image] config section.
func ConfigFrom(cfg config.Image) Config {
	return Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Params: Params{
			Width:    cfg.Width,
			Height:   cfg.Height,
			Steps:    cfg.Steps,
			CFGScale: cfg.CFGScale,
			Sampler:  cfg.Sampler,
		},
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxPolls:     cfg.MaxPolls,
		Timeout:      time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// Image is a finished generation.
type Image struct {
	JobID       string
	Data        []byte
	ContentType string
	Polls       int
}

// Client submits and collects image jobs.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      retry.Clock
	gate       *retry.Gate
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithClock drives poll waits from clock.
func WithClock(clock retry.Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithGate spaces job submissions through gate.
func WithGate(gate *retry.Gate) Option {
	return func(c *Client) { c.gate = gate }
}

// WithLogger sets the logger used for poll progress.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient builds an image client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		cfg.APIKey = anonymousAPIKey
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		clock:      retry.System(),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FromConfig builds a gated client from the application config.
func FromConfig(cfg *config.Config, clock retry.Clock, logger *slog.Logger) *Client {
	gate := retry.NewGate(clock,
		time.Duration(cfg.Image.MinIntervalSeconds)*time.Second,
		time.Duration(cfg.Image.MaxPenaltySeconds)*time.Second,
	)
	return NewClient(ConfigFrom(cfg.Image),
		WithClock(clock),
		WithGate(gate),
		WithLogger(logging.NewComponentLogger(logger, "imagegen")),
	)
}

// Generate submits prompt, waits for the job, and returns the image bytes.
func (c *Client) Generate(ctx context.Context, prompt string) (Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Image{}, services.Wrap(services.ErrValidation, "", "image generate", "prompt is required", nil)
	}

	var jobID string
	submit := func(ctx context.Context) error {
		var err error
		jobID, err = c.submit(ctx, prompt)
		return err
	}
	var err error
	if c.gate != nil {
		err = c.gate.Do(ctx, submit)
	} else {
		err = submit(ctx)
	}
	if err != nil {
		return Image{}, err
	}

	poller := retry.Poller{
		Interval: c.cfg.PollInterval,
		MaxPolls: c.cfg.MaxPolls,
		Clock:    c.clock,
		OnPoll: func(state retry.PollState, polls, max int) {
			c.logger.Debug("image job polled",
				logging.String("job_id", jobID),
				logging.String("state", state.String()),
				logging.Int("polls", polls),
				logging.Int("max_polls", max),
			)
		},
	}
	result, err := poller.Wait(ctx, func(ctx context.Context) (bool, error) {
		return c.check(ctx, jobID)
	})
	if err != nil {
		return Image{}, fmt.Errorf("image job %s: %w", jobID, err)
	}

	data, contentType, err := c.fetch(ctx, jobID)
	if err != nil {
		return Image{}, err
	}
	return Image{JobID: jobID, Data: data, ContentType: contentType, Polls: result.Polls}, nil
}

// HealthCheck verifies the service answers its heartbeat endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, c.cfg.BaseURL+"/status/heartbeat", &out)
}

type submitRequest struct {
	Prompt string `json:"prompt"`
	Params Params `json:"params"`
}

type submitResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type checkResponse struct {
	Done     bool  `json:"done"`
	Faulted  bool  `json:"faulted"`
	Possible *bool `json:"is_possible"`
}

type statusResponse struct {
	Generations []struct {
		Img      string `json:"img"`
		Censored bool   `json:"censored"`
	} `json:"generations"`
}

func (c *Client) submit(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: prompt, Params: c.cfg.Params})
	if err != nil {
		return "", fmt.Errorf("image submit: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/generate/async", bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "", "image submit", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.cfg.APIKey)
	req.Header.Set("Client-Agent", clientAgentValue)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, "image submit", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", classifyStatus("image submit", resp.StatusCode, resp.Header.Get("Retry-After"), raw)
	}
	var out submitResponse
	if err := json.Unmarshal(raw, &out); err != nil || strings.TrimSpace(out.ID) == "" {
		return "", services.Wrap(services.ErrTransient, "", "image submit", "response carried no job id", err)
	}
	return out.ID, nil
}

func (c *Client) check(ctx context.Context, jobID string) (bool, error) {
	var out checkResponse
	if err := c.getJSON(ctx, c.cfg.BaseURL+"/generate/check/"+url.PathEscape(jobID), &out); err != nil {
		return false, err
	}
	if out.Faulted {
		return false, services.Wrap(services.ErrTransient, "", "image check", "job faulted", retry.ErrJobEnded)
	}
	if out.Possible != nil && !*out.Possible {
		return false, services.Wrap(services.ErrRejected, "", "image check", "no worker can serve this job", nil)
	}
	return out.Done, nil
}

func (c *Client) fetch(ctx context.Context, jobID string) ([]byte, string, error) {
	var out statusResponse
	if err := c.getJSON(ctx, c.cfg.BaseURL+"/generate/status/"+url.PathEscape(jobID), &out); err != nil {
		return nil, "", err
	}
	if len(out.Generations) == 0 || strings.TrimSpace(out.Generations[0].Img) == "" {
		return nil, "", services.Wrap(services.ErrTransient, "", "image fetch", "job finished without generations", nil)
	}
	gen := out.Generations[0]
	if gen.Censored {
		return nil, "", services.Wrap(services.ErrRejected, "", "image fetch", "generation was censored", nil)
	}
	img := strings.TrimSpace(gen.Img)
	if strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://") {
		return c.download(ctx, img)
	}
	data, err := base64.StdEncoding.DecodeString(img)
	if err != nil {
		return nil, "", services.Wrap(services.ErrRejected, "", "image fetch", "undecodable image payload", err)
	}
	return data, http.DetectContentType(data), nil
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", services.Wrap(services.ErrRejected, "", "image download", "invalid url", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", classifyTransportError(ctx, "image download", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", classifyStatus("image download", resp.StatusCode, resp.Header.Get("Retry-After"), raw)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", classifyTransportError(ctx, "image download", err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "", "image request", "build request", err)
	}
	req.Header.Set("Client-Agent", clientAgentValue)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, "image request", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransportError(ctx, "image request", err)
	}
	if resp.StatusCode != http.StatusOK {
		return classifyStatus("image request", resp.StatusCode, resp.Header.Get("Retry-After"), raw)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return services.Wrap(services.ErrTransient, "", "image request", "decode response", err)
	}
	return nil
}

func classifyStatus(op string, status int, retryAfter string, body []byte) error {
	msg := fmt.Sprintf("http %d: %s", status, strings.Join(strings.Fields(string(body)), " "))
	switch {
	case status == http.StatusTooManyRequests:
		err := services.Wrap(services.ErrRateLimited, "", op, msg, nil)
		if seconds, convErr := strconv.Atoi(strings.TrimSpace(retryAfter)); convErr == nil && seconds > 0 {
			return services.WithDelayHint(err, time.Duration(seconds)*time.Second)
		}
		return err
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "", op, msg, nil)
	case status == http.StatusUnauthorized:
		return services.Wrap(services.ErrConfiguration, "", op, msg, nil)
	default:
		return services.Wrap(services.ErrRejected, "", op, msg, nil)
	}
}

func classifyTransportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "", op, "network timeout", err)
	}
	return services.Wrap(services.ErrTransient, "", op, "http error", err)
}

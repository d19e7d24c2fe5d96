package imagegen_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"postforge/internal/retry"
	"postforge/internal/services"
	"postforge/internal/services/imagegen"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

type hordeStub struct {
	mu          sync.Mutex
	submitCode  int
	checksUntil int
	faulted     bool
	img         string
	checks      int
	apikey      string
	prompt      string
}

func (h *hordeStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/generate/async", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.apikey = r.Header.Get("apikey")
		var body struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		h.prompt = body.Prompt
		if h.submitCode != 0 {
			w.WriteHeader(h.submitCode)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1"})
	})
	mux.HandleFunc("/generate/check/job-1", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.checks++
		_ = json.NewEncoder(w).Encode(map[string]bool{"done": h.checks >= h.checksUntil, "faulted": h.faulted})
	})
	mux.HandleFunc("/generate/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		img := h.img
		if img == "" {
			img = srv.URL + "/image.jpg"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"generations": []any{map[string]any{"img": img}}})
	})
	mux.HandleFunc("/image.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server, clock retry.Clock, maxPolls int) *imagegen.Client {
	return imagegen.NewClient(imagegen.Config{
		BaseURL:      srv.URL,
		Params:       imagegen.Params{Width: 512, Height: 512, Steps: 30, CFGScale: 7.5},
		PollInterval: 10 * time.Second,
		MaxPolls:     maxPolls,
	}, imagegen.WithClock(clock))
}

func TestGenerateDownloadsURLResult(t *testing.T) {
	stub := &hordeStub{checksUntil: 3}
	srv := stub.server(t)
	clock := retry.NewFakeClock(time.Unix(0, 0))

	img, err := newClient(srv, clock, 60).Generate(context.Background(), "a sunrise over mountains")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if img.JobID != "job-1" || img.Polls != 3 || img.ContentType != "image/jpeg" || string(img.Data) != string(jpegBytes) {
		t.Fatalf("unexpected image %+v", img)
	}
	if stub.apikey != "0000000000" || stub.prompt != "a sunrise over mountains" {
		t.Fatalf("unexpected submit apikey=%q prompt=%q", stub.apikey, stub.prompt)
	}
	if sleeps := clock.Sleeps(); len(sleeps) != 3 || sleeps[0] != 10*time.Second {
		t.Fatalf("expected three 10s poll waits, got %v", sleeps)
	}
}

func TestGenerateDecodesBase64Result(t *testing.T) {
	stub := &hordeStub{checksUntil: 1, img: base64.StdEncoding.EncodeToString(jpegBytes)}
	srv := stub.server(t)

	img, err := newClient(srv, retry.NewFakeClock(time.Unix(0, 0)), 5).Generate(context.Background(), "cat")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(img.Data) != string(jpegBytes) || img.ContentType != "image/jpeg" {
		t.Fatalf("unexpected image %+v", img)
	}
}

func TestGeneratePollTimeoutIsTransient(t *testing.T) {
	stub := &hordeStub{checksUntil: 100}
	srv := stub.server(t)

	_, err := newClient(srv, retry.NewFakeClock(time.Unix(0, 0)), 4).Generate(context.Background(), "cat")
	if !errors.Is(err, services.ErrTimeout) || !services.IsRetryable(err) {
		t.Fatalf("expected retryable timeout, got %v", err)
	}
	if stub.checks != 4 {
		t.Fatalf("expected 4 checks, got %d", stub.checks)
	}
}

func TestGenerateFaultedJobStopsPolling(t *testing.T) {
	stub := &hordeStub{checksUntil: 100, faulted: true}
	srv := stub.server(t)
	clock := retry.NewFakeClock(time.Unix(0, 0))

	_, err := newClient(srv, clock, 60).Generate(context.Background(), "cat")
	if !errors.Is(err, retry.ErrJobEnded) || !services.IsRetryable(err) {
		t.Fatalf("expected a retryable ended-job error, got %v", err)
	}
	if errors.Is(err, services.ErrTimeout) {
		t.Fatalf("a faulted job is not a timeout: %v", err)
	}
	if stub.checks != 1 || len(clock.Sleeps()) != 1 {
		t.Fatalf("expected a single check, got %d checks and sleeps %v", stub.checks, clock.Sleeps())
	}
}

func TestGenerateSubmitFailures(t *testing.T) {
	tests := []struct {
		code   int
		marker error
	}{
		{http.StatusTooManyRequests, services.ErrRateLimited},
		{http.StatusServiceUnavailable, services.ErrTransient},
		{http.StatusBadRequest, services.ErrRejected},
		{http.StatusUnauthorized, services.ErrConfiguration},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			stub := &hordeStub{submitCode: tc.code}
			srv := stub.server(t)
			_, err := newClient(srv, retry.NewFakeClock(time.Unix(0, 0)), 2).Generate(context.Background(), "cat")
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}
}

func TestGenerateRequiresPrompt(t *testing.T) {
	client := imagegen.NewClient(imagegen.Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.Generate(context.Background(), "  "); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"termbatch/constants"
)

// Listener observes job lifecycle events. Implementations must be cheap;
// they are called from the polling loop.
type Listener interface {
	OnStatus(status string)
	OnProgress(fraction float64)
	OnComplete()
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) OnStatus(string)    {}
func (NopListener) OnProgress(float64) {}
func (NopListener) OnComplete()        {}

// RemoteJob is the client-owned view of the remote job. Only the Client
// mutates it; everyone else reads snapshots.
type RemoteJob struct {
	JobID           string
	Status          constants.JobStatus
	InputPayloadRef string
	OutputRef       string
	ErrorRef        string
	CreatedAt       int64
	ExpiresAt       int64
}

// StatusSnapshot is the consumed subset of one poll response.
type StatusSnapshot struct {
	JobID        string
	Status       constants.JobStatus
	RemoteStatus string
	Progress     *float64 // native progress fraction in [0,1], when supplied
	OutputRef    string
	ErrorRef     string
	Reason       string
	CreatedAt    int64
	ExpiresAt    int64
}

// Config fixes the client's remote endpoint and polling behavior.
type Config struct {
	BaseURL          string
	APIKey           string
	Endpoint         string // completions endpoint recorded on job creation
	CompletionWindow string // e.g. "24h"

	FastPollInterval  time.Duration // first FastPollCount ticks
	SlowPollInterval  time.Duration // every tick after that
	FastPollCount     int
	EstimatedDuration time.Duration // wall-clock fallback for progress
	MaxPollDuration   time.Duration // 0 means no ceiling

	HTTPTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = 5 * time.Second
	}
	if c.SlowPollInterval <= 0 {
		c.SlowPollInterval = 15 * time.Second
	}
	if c.FastPollCount <= 0 {
		c.FastPollCount = 3
	}
	if c.EstimatedDuration <= 0 {
		c.EstimatedDuration = 5 * time.Minute
	}
	if c.CompletionWindow == "" {
		c.CompletionWindow = "24h"
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 60 * time.Second
	}
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithListener injects a lifecycle observer.
func WithListener(l Listener) Option {
	return func(c *Client) {
		if l != nil {
			c.listener = l
		}
	}
}

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client owns the remote batch job lifecycle: upload, submit, poll,
// download, and cooperative cancellation.
type Client struct {
	cfg        Config
	baseURL    string
	apiKey     string
	httpClient *http.Client
	listener   Listener
	log        *slog.Logger

	job RemoteJob
}

// NewClient wires a Client from config. A nil logger falls back to
// slog.Default(); the listener defaults to NopListener.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	c := &Client{
		cfg:        cfg,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		listener:   NopListener{},
		log:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Job returns a copy of the client-owned remote job state.
func (c *Client) Job() RemoteJob { return c.job }

func (c *Client) setStatus(to constants.JobStatus) {
	from := c.job.Status
	if from != "" && !from.CanTransition(to) {
		c.log.Warn("batch.status.invalid_transition", "from", from, "to", to)
		return
	}
	c.job.Status = to
}

// remote DTOs

type fileResponse struct {
	ID string `json:"id"`
}

type batchResponse struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	OutputFileID  string   `json:"output_file_id"`
	ErrorFileID   string   `json:"error_file_id"`
	Progress      *float64 `json:"progress"`
	CreatedAt     int64    `json:"created_at"`
	ExpiresAt     int64    `json:"expires_at"`
	RequestCounts *struct {
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
		Total     int `json:"total"`
	} `json:"request_counts"`
	Errors *struct {
		Data []struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"errors"`
	Error string `json:"error"`
}

func (b *batchResponse) reason() string {
	if b.Errors != nil && len(b.Errors.Data) > 0 && b.Errors.Data[0].Message != "" {
		return b.Errors.Data[0].Message
	}
	if b.Error != "" {
		return b.Error
	}
	return "unknown error"
}

func (b *batchResponse) snapshot() StatusSnapshot {
	snap := StatusSnapshot{
		JobID:        b.ID,
		Status:       constants.ParseRemoteStatus(b.Status),
		RemoteStatus: b.Status,
		Progress:     b.Progress,
		OutputRef:    b.OutputFileID,
		ErrorRef:     b.ErrorFileID,
		CreatedAt:    b.CreatedAt,
		ExpiresAt:    b.ExpiresAt,
	}
	if snap.Status == constants.JobStatusFailed {
		snap.Reason = b.reason()
	}
	// Derive a progress fraction from request counts when the service
	// reports no native fraction.
	if snap.Progress == nil && b.RequestCounts != nil && b.RequestCounts.Total > 0 {
		p := float64(b.RequestCounts.Completed+b.RequestCounts.Failed) / float64(b.RequestCounts.Total)
		snap.Progress = &p
	}
	return snap
}

// Upload transfers the batch payload and returns the remote file reference.
// Failure is terminal for the invocation; the transport does not retry.
func (c *Client) Upload(ctx context.Context, payload []byte, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: before upload", ErrCancelled)
	}
	start := time.Now()
	c.listener.OnStatus("uploading batch payload")

	raw, err := c.postFile(ctx, c.url("/files"), "file", fileName, "batch", payload)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: during upload", ErrCancelled)
		}
		c.log.Error("batch.upload.failed", "err", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	var fr fileResponse
	if err := json.Unmarshal(raw, &fr); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUploadFailed, err)
	}
	if fr.ID == "" {
		return "", fmt.Errorf("%w: response carried no file id", ErrUploadFailed)
	}

	c.job.InputPayloadRef = fr.ID
	c.log.Info("batch.upload.ok", "file_ref", fr.ID, "bytes", len(payload),
		"elapsed_ms", time.Since(start).Milliseconds())
	return fr.ID, nil
}

// Submit creates the remote job for an uploaded payload and returns its id.
func (c *Client) Submit(ctx context.Context, fileRef, description string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: before submit", ErrCancelled)
	}
	c.listener.OnStatus("creating batch job")

	body := map[string]any{
		"input_file_id":     fileRef,
		"endpoint":          c.cfg.Endpoint,
		"completion_window": c.cfg.CompletionWindow,
		"metadata":          map[string]string{"description": description},
	}
	raw, err := c.postJSON(ctx, c.url("/batches"), body)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: during submit", ErrCancelled)
		}
		c.log.Error("batch.submit.failed", "file_ref", fileRef, "err", err)
		return "", fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	var br batchResponse
	if err := json.Unmarshal(raw, &br); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrSubmitFailed, err)
	}
	if br.ID == "" {
		return "", fmt.Errorf("%w: response carried no job id", ErrSubmitFailed)
	}

	c.job.JobID = br.ID
	c.job.CreatedAt = br.CreatedAt
	c.setStatus(constants.JobStatusCreated)
	c.log.Info("batch.submit.ok", "job_id", br.ID, "file_ref", fileRef)
	return br.ID, nil
}

// Poll queries remote status once.
func (c *Client) Poll(ctx context.Context, jobID string) (StatusSnapshot, error) {
	raw, err := c.getRaw(ctx, c.url("/batches/"+jobID))
	if err != nil {
		return StatusSnapshot{}, fmt.Errorf("poll status: %w", err)
	}
	var br batchResponse
	if err := json.Unmarshal(raw, &br); err != nil {
		return StatusSnapshot{}, fmt.Errorf("poll status: decode: %w", err)
	}
	snap := br.snapshot()
	c.job.OutputRef = snap.OutputRef
	c.job.ErrorRef = snap.ErrorRef
	c.job.ExpiresAt = snap.ExpiresAt
	c.setStatus(snap.Status)
	return snap, nil
}

// Await polls until the job reaches a terminal status, the configured
// maximum poll duration elapses, or the context is cancelled. The schedule
// runs FastPollCount short ticks, then switches to the slow interval. The
// cancellation signal is checked at the start of every tick; once observed
// no further remote call is made. On success progress is pinned to 0.9, the
// remaining 0.1 being reserved for repair, normalization, and export.
func (c *Client) Await(ctx context.Context, jobID string) (StatusSnapshot, error) {
	start := time.Now()
	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			c.setStatus(constants.JobStatusCancelled)
			c.listener.OnStatus("cancellation requested; polling stopped")
			c.log.Info("batch.await.cancelled", "job_id", jobID, "iteration", iteration)
			return StatusSnapshot{}, fmt.Errorf("%w: while polling", ErrCancelled)
		}

		snap, err := c.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				c.setStatus(constants.JobStatusCancelled)
				return StatusSnapshot{}, fmt.Errorf("%w: while polling", ErrCancelled)
			}
			return StatusSnapshot{}, err
		}

		elapsed := time.Since(start)
		switch snap.Status {
		case constants.JobStatusCompleted:
			c.listener.OnProgress(0.9)
			c.listener.OnStatus("batch job completed")
			c.log.Info("batch.await.completed", "job_id", jobID,
				"iterations", iteration+1, "elapsed_ms", elapsed.Milliseconds())
			return snap, nil
		case constants.JobStatusFailed:
			c.listener.OnStatus("batch job failed: " + snap.Reason)
			c.log.Error("batch.await.remote_failed", "job_id", jobID, "reason", snap.Reason)
			return snap, fmt.Errorf("%w: %s", ErrRemoteJobFailed, snap.Reason)
		case constants.JobStatusCancelled:
			c.log.Warn("batch.await.remote_cancelled", "job_id", jobID)
			return snap, fmt.Errorf("%w: reported by remote", ErrCancelled)
		default:
			p := estimateProgress(snap.Progress, elapsed, c.cfg.EstimatedDuration)
			c.listener.OnProgress(p)
			c.listener.OnStatus(statusLine(snap.RemoteStatus, p, elapsed))
		}

		if c.cfg.MaxPollDuration > 0 && elapsed >= c.cfg.MaxPollDuration {
			c.log.Error("batch.await.timeout", "job_id", jobID, "elapsed_ms", elapsed.Milliseconds())
			return snap, fmt.Errorf("%w after %s", ErrPollTimeout, elapsed.Round(time.Second))
		}

		interval := c.cfg.SlowPollInterval
		if iteration < c.cfg.FastPollCount {
			interval = c.cfg.FastPollInterval
		}
		select {
		case <-ctx.Done():
			// Loop re-entry performs the cancellation bookkeeping.
		case <-time.After(interval):
		}
	}
}

// Download fetches the full result payload. Only valid after a Completed
// terminal status with a non-empty output reference.
func (c *Client) Download(ctx context.Context, outputRef string) ([]byte, error) {
	start := time.Now()
	c.listener.OnStatus("downloading batch results")

	raw, err := c.getRaw(ctx, c.url("/files/"+outputRef+"/content"))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: during download", ErrCancelled)
		}
		c.log.Error("batch.download.failed", "output_ref", outputRef, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	c.log.Info("batch.download.ok", "output_ref", outputRef, "bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())
	return raw, nil
}

// Result carries everything Execute learned about one finished job.
type Result struct {
	JobID         string
	InputFileRef  string
	OutputFileRef string
	Raw           []byte
}

// Execute drives the whole lifecycle: upload, submit, await, download.
// A Completed status with an empty output reference is reported as
// ErrCompletedWithoutOutput and no download is attempted.
func (c *Client) Execute(ctx context.Context, payload []byte, description string) (*Result, error) {
	fileRef, err := c.Upload(ctx, payload, "batch_requests.jsonl")
	if err != nil {
		return nil, err
	}
	jobID, err := c.Submit(ctx, fileRef, description)
	if err != nil {
		return nil, err
	}
	snap, err := c.Await(ctx, jobID)
	if err != nil {
		return &Result{JobID: jobID, InputFileRef: fileRef}, err
	}
	if snap.OutputRef == "" {
		c.log.Error("batch.execute.no_output_ref", "job_id", jobID)
		return &Result{JobID: jobID, InputFileRef: fileRef}, ErrCompletedWithoutOutput
	}
	raw, err := c.Download(ctx, snap.OutputRef)
	if err != nil {
		return &Result{JobID: jobID, InputFileRef: fileRef, OutputFileRef: snap.OutputRef}, err
	}
	return &Result{
		JobID:         jobID,
		InputFileRef:  fileRef,
		OutputFileRef: snap.OutputRef,
		Raw:           raw,
	}, nil
}

// estimateProgress maps remote progress onto the reported [0.1, 0.9] range,
// falling back to a wall-clock estimate against the expected duration.
func estimateProgress(native *float64, elapsed, estimated time.Duration) float64 {
	if native != nil {
		p := *native
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		return 0.1 + 0.8*p
	}
	frac := 0.0
	if estimated > 0 {
		frac = elapsed.Seconds() / estimated.Seconds()
	}
	p := 0.1 + 0.8*frac
	if p > 0.9 {
		p = 0.9
	}
	return p
}

// statusLine formats the listener status text, with an estimated remaining
// time once progress has moved past the floor.
func statusLine(remoteStatus string, p float64, elapsed time.Duration) string {
	line := "batch job status: " + remoteStatus
	if p > 0.1 {
		remaining := time.Duration(elapsed.Seconds() / (p - 0.1) * (0.9 - p) * float64(time.Second))
		if remaining > 0 {
			line += ", est. " + remaining.Round(time.Second).String() + " remaining"
		}
	}
	return line
}

// Package trainer is the HTTP client for the LDA training service.
package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/ldawatch/pkg/models"
)

// Sentinel errors for training service failures.
var (
	ErrServiceUnreachable = errors.New("training service unreachable")
	ErrRequestTimeout     = errors.New("training service request timeout")
	ErrUnexpectedStatus   = errors.New("training service returned unexpected status")
	ErrInvalidResponse    = errors.New("training service returned invalid response")
)

// Client is the interface for talking to the training service.
type Client interface {
	StartTraining(ctx context.Context, jobID string) (*models.StartResponse, error)
	Progress(ctx context.Context, jobID string) (*models.Progress, error)
	CancelTraining(ctx context.Context, jobID string) (*models.CancelResponse, error)
}

// HTTPClient implements Client over the service's REST endpoints.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new training service client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// StartTraining issues POST /lda/{jobID}. The service reports "ongoing" and
// "error" in the body, sometimes alongside a non-2xx code, so any JSON body
// carrying a status is returned as a response rather than an error.
func (c *HTTPClient) StartTraining(ctx context.Context, jobID string) (*models.StartResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, StartPath(jobID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.StartResponse
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	out.HTTPStatus = resp.StatusCode
	return &out, nil
}

// Progress issues GET /progress/{jobID}.
func (c *HTTPClient) Progress(ctx context.Context, jobID string) (*models.Progress, error) {
	resp, err := c.do(ctx, http.MethodGet, ProgressPath(jobID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var out models.Progress
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding progress: %v", ErrInvalidResponse, err)
	}
	return &out, nil
}

// CancelTraining issues POST /cancel-training/{jobID}.
func (c *HTTPClient) CancelTraining(ctx context.Context, jobID string) (*models.CancelResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, CancelPath(jobID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out models.CancelResponse
	if err := decodeBody(resp, &out); err != nil {
		return nil, err
	}
	out.HTTPStatus = resp.StatusCode
	return &out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

// StartPath returns the escaped start endpoint path for jobID.
func StartPath(jobID string) string {
	return "/lda/" + url.PathEscape(jobID)
}

// ProgressPath returns the escaped progress endpoint path for jobID.
func ProgressPath(jobID string) string {
	return "/progress/" + url.PathEscape(jobID)
}

// CancelPath returns the escaped cancel endpoint path for jobID.
func CancelPath(jobID string) string {
	return "/cancel-training/" + url.PathEscape(jobID)
}

type statusBody interface {
	*models.StartResponse | *models.CancelResponse
}

// decodeBody reads a status-carrying body. Non-2xx responses are accepted
// only when they still decode to a non-empty status.
func decodeBody[T statusBody](resp *http.Response, out T) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyError(err)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if err := json.Unmarshal(body, out); err != nil {
		if !ok {
			return fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	if !ok && statusOf(out) == "" {
		return fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

func statusOf[T statusBody](v T) string {
	switch b := any(v).(type) {
	case *models.StartResponse:
		return b.Status
	case *models.CancelResponse:
		return b.Status
	}
	return ""
}

// classifyError maps transport-level errors to sentinel errors. A request
// cancelled by its caller is returned unclassified.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrRequestTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrServiceUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

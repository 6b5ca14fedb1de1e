package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pdv/internal/fiscal"
)

// authorityRequest is the JSON body accepted by the NFC-e gateway.
type authorityRequest struct {
	Kind          string `json:"kind"`
	Reference     string `json:"reference"`
	AccessKey     string `json:"access_key,omitempty"`
	Number        int64  `json:"number,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	Justification string `json:"justification,omitempty"`
	Payload       string `json:"payload"`
}

// authorityResponse is returned by submit and cancel.
type authorityResponse struct {
	Status    string `json:"status"` // authorized | cancelled | rejected
	AccessKey string `json:"access_key"`
	Protocol  string `json:"protocol"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// AuthorityClient talks to the NFC-e authorization gateway over HTTP. It never
// retries: every call is one attempt, and the Reference travels as the
// Idempotency-Key header so a resubmission after a lost answer is deduplicated
// upstream.
type AuthorityClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAuthorityClient(baseURL string, timeout time.Duration) *AuthorityClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AuthorityClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *AuthorityClient) Submit(ctx context.Context, s fiscal.Submission) (*fiscal.Ack, error) {
	body := authorityRequest{
		Kind:      string(s.Kind),
		Reference: s.Reference,
		AccessKey: s.AccessKey,
		Number:    s.DocumentNumber,
		Payload:   string(s.Payload),
	}
	return c.send(ctx, "submit", "/v1/documents", s.Reference, body)
}

func (c *AuthorityClient) Cancel(ctx context.Context, r fiscal.CancelRequest) (*fiscal.Ack, error) {
	body := authorityRequest{
		Kind:          string(r.Kind),
		Reference:     r.Reference,
		AccessKey:     r.AccessKey,
		Protocol:      r.Protocol,
		Justification: r.Justification,
		Payload:       string(r.Payload),
	}
	path := "/v1/documents/" + url.PathEscape(r.AccessKey) + "/cancel"
	return c.send(ctx, "cancel", path, r.Reference+":cancel", body)
}

func (c *AuthorityClient) Query(ctx context.Context, q fiscal.QueryRequest) (*fiscal.StatusReport, error) {
	endpoint := c.baseURL + "/v1/documents/" + url.PathEscape(q.AccessKey)
	if q.AccessKey == "" {
		endpoint = c.baseURL + "/v1/documents?reference=" + url.QueryEscape(q.Reference)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &fiscal.TransportError{Op: "query", Err: fmt.Errorf("create request: %w", err)}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyHTTPError("query", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &fiscal.StatusReport{AccessKey: q.AccessKey, State: fiscal.RemoteNotFound}, nil
	}
	if err := statusError("query", resp); err != nil {
		return nil, err
	}
	var report fiscal.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, &fiscal.TransportError{Op: "query", Err: fmt.Errorf("decode response: %w", err)}
	}
	return &report, nil
}

// Ping checks that the gateway answers its health endpoint.
func (c *AuthorityClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authority gateway returned %d", resp.StatusCode)
	}
	return nil
}

func (c *AuthorityClient) send(ctx context.Context, op, path, idempotencyKey string, body authorityRequest) (*fiscal.Ack, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, &fiscal.TransportError{Op: op, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, &fiscal.TransportError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyHTTPError(op, err)
	}
	defer resp.Body.Close()

	// 422 carries a business rejection in the regular body.
	if resp.StatusCode != http.StatusUnprocessableEntity {
		if err := statusError(op, resp); err != nil {
			return nil, err
		}
	}

	var result authorityResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &fiscal.TransportError{Op: op, MaybeDelivered: true, Err: fmt.Errorf("decode response: %w", err)}
	}
	accepted := result.Status == "authorized" || result.Status == "cancelled"
	return &fiscal.Ack{
		Accepted:  accepted,
		AccessKey: result.AccessKey,
		Protocol:  result.Protocol,
		Code:      result.Code,
		Message:   result.Message,
	}, nil
}

// statusError maps non-2xx answers. 503 means the gateway refused to try;
// other 5xx may have been forwarded upstream; 4xx were refused locally.
func statusError(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("fiscal %s: %w: %v", op, fiscal.ErrUnavailable, detail)
	case resp.StatusCode >= 500:
		return &fiscal.TransportError{Op: op, MaybeDelivered: true, Err: detail}
	default:
		return &fiscal.TransportError{Op: op, Err: detail}
	}
}

// classifyHTTPError separates failures that never left the host (dial errors)
// from those where the request may have been processed.
func classifyHTTPError(op string, err error) error {
	te := &fiscal.TransportError{Op: op, MaybeDelivered: true, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		te.Timeout = true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		te.MaybeDelivered = false
		te.Timeout = false
	}
	return te
}

var _ fiscal.Transport = (*AuthorityClient)(nil)

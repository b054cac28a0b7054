package loginform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"email-login/delivery/model"
)

// LoginPath is the endpoint every submission is posted to.
const LoginPath = "/api/auth/login"

// ClientIPHeader carries the address of the user a submission is made for.
const ClientIPHeader = "X-Real-IP"

// maxResponseBytes caps how much of a login response body is read.
const maxResponseBytes = 1 << 20

type clientIPKey struct{}

// WithClientIP records the address of the user the form submits for.
// HTTPTransport forwards it in ClientIPHeader.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the address stored by WithClientIP.
func ClientIPFromContext(ctx context.Context) (string, bool) {
	ip, ok := ctx.Value(clientIPKey{}).(string)
	return ip, ok && ip != ""
}

// Response is what the transport reports back for a completed request.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the transport considers the request fulfilled.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport sends a single login request. An error means no response was
// received at all; non-2xx responses are returned with a nil error.
type Transport interface {
	Do(ctx context.Context, req model.LoginRequest) (*Response, error)
}

// TransportFunc adapts a plain function to Transport.
type TransportFunc func(ctx context.Context, req model.LoginRequest) (*Response, error)

func (f TransportFunc) Do(ctx context.Context, req model.LoginRequest) (*Response, error) {
	return f(ctx, req)
}

// HTTPTransport posts login requests as JSON to baseURL + LoginPath.
type HTTPTransport struct {
	client  *http.Client
	baseURL string
}

// NewHTTPTransport returns a transport rooted at baseURL. An empty baseURL
// produces relative requests, which only make sense with a custom client.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (t *HTTPTransport) Do(ctx context.Context, loginReq model.LoginRequest) (*Response, error) {
	body, err := json.Marshal(loginReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+LoginPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ip, ok := ClientIPFromContext(ctx); ok {
		req.Header.Set(ClientIPHeader, ip)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send login request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read login response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

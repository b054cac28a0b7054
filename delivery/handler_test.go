package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/lestrrat-go/jwx/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"email-login/delivery/model"
	"email-login/loginform"
)

type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	message string
	err     error
}

func (s *fakeSender) SendLoginEmail(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email)
	return s.message, s.err
}

func (s *fakeSender) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

type fakeVerifier struct {
	tokens map[string]string
}

func (v *fakeVerifier) VerifyLoginToken(_ context.Context, token string) (string, error) {
	email, ok := v.tokens[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return email, nil
}

type fakePublisher struct {
	set jwk.Set
}

func (p *fakePublisher) PublicKeys(context.Context) (jwk.Set, error) {
	return p.set, nil
}

type fakeDeps struct {
	sender    *fakeSender
	verifier  *fakeVerifier
	publisher *fakePublisher
	transport loginform.Transport
	trusted   []netip.Prefix
	limited   bool
}

func (d *fakeDeps) GetLogger() *zap.Logger { return zap.NewNop() }

func (d *fakeDeps) GetLoginSender() LoginSender { return d.sender }

func (d *fakeDeps) GetFormTransport() loginform.Transport { return d.transport }

func (d *fakeDeps) GetTokenVerifier() (TokenVerifier, bool) {
	if d.verifier == nil {
		return nil, false
	}
	return d.verifier, true
}

func (d *fakeDeps) GetKeyPublisher() (KeyPublisher, bool) {
	if d.publisher == nil {
		return nil, false
	}
	return d.publisher, true
}

func (d *fakeDeps) GetTrustedProxies() []netip.Prefix { return d.trusted }

func (d *fakeDeps) LoginRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if d.limited {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newTestDeps() *fakeDeps {
	return &fakeDeps{sender: &fakeSender{}}
}

func postLogin(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, model.LoginResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	var resp model.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestHealth(t *testing.T) {
	h := NewRouter(newTestDeps())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"Healthy"}`, rec.Body.String())
}

func TestLogin_ValidEmail(t *testing.T) {
	deps := newTestDeps()
	h := NewRouter(deps)

	rec, resp := postLogin(t, h, `{"email":"test@example.com"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, model.MessageLoginSent, resp.Message)
	assert.Equal(t, []string{"test@example.com"}, deps.sender.sentTo())
}

func TestLogin_SenderMessageIsReturned(t *testing.T) {
	deps := newTestDeps()
	deps.sender.message = "Check your inbox for a code"
	h := NewRouter(deps)

	_, resp := postLogin(t, h, `{"email":"test@example.com"}`)

	assert.Equal(t, "Check your inbox for a code", resp.Message)
}

func TestLogin_BadRequests(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid email", `{"email":"invalid-email"}`, MessageInvalidEmail},
		{"empty email", `{"email":"  "}`, model.MessageEmptyEmail},
		{"missing email", `{}`, model.MessageEmptyEmail},
		{"malformed json", `{"email":`, MessageInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps()
			h := NewRouter(deps)

			rec, resp := postLogin(t, h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
			assert.Empty(t, deps.sender.sentTo())
		})
	}
}

func TestLogin_SenderFailure(t *testing.T) {
	deps := newTestDeps()
	deps.sender.err = errors.New("smtp down")
	h := NewRouter(deps)

	rec, resp := postLogin(t, h, `{"email":"test@example.com"}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, MessageSendFailed, resp.Message)
}

func TestLogin_SenderRejection(t *testing.T) {
	deps := newTestDeps()
	deps.sender.err = &model.RejectedError{Message: "This account does not exist"}
	h := NewRouter(deps)

	rec, resp := postLogin(t, h, `{"email":"test@example.com"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "This account does not exist", resp.Message)
}

func TestLogin_RateLimited(t *testing.T) {
	deps := newTestDeps()
	deps.limited = true
	h := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"test@example.com"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, deps.sender.sentTo())
}

func TestVerify(t *testing.T) {
	deps := newTestDeps()
	deps.verifier = &fakeVerifier{tokens: map[string]string{"good": "test@example.com"}}
	h := NewRouter(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/verify?token=good", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"email":"test@example.com"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/verify?token=bad", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/verify", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify_DisabledWithoutVerifier(t *testing.T) {
	h := NewRouter(newTestDeps())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/verify?token=x", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestJWKS(t *testing.T) {
	key, err := jwk.New([]byte("not-a-real-secret"))
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "public:k1"))
	set := jwk.NewSet()
	set.Add(key)

	deps := newTestDeps()
	deps.publisher = &fakePublisher{set: set}
	h := NewRouter(deps)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"kid":"public:k1"`)

	rec = httptest.NewRecorder()
	NewRouter(newTestDeps()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLoginPage_Get(t *testing.T) {
	h := NewRouter(newTestDeps())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Email Login")
	assert.Contains(t, body, "Email Address")
	assert.Contains(t, body, ">Login</button>")
}

// newPageServer serves the router over a real listener so the page's form
// submits to the same API it renders.
func newPageServer(t *testing.T, deps *fakeDeps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewRouter(deps))
	t.Cleanup(srv.Close)
	deps.transport = loginform.NewHTTPTransport(srv.URL, srv.Client())
	return srv
}

func submitPage(t *testing.T, srv *httptest.Server, email string) (int, string) {
	t.Helper()
	resp, err := srv.Client().PostForm(srv.URL+"/", url.Values{"email": {email}})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestLoginPage_SubmitSuccess(t *testing.T) {
	deps := newTestDeps()
	deps.sender.message = "Login email sent successfully!"
	srv := newPageServer(t, deps)

	status, body := submitPage(t, srv, "test@example.com")

	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Login email sent successfully!")
	assert.Contains(t, body, `value=""`)
	assert.Equal(t, []string{"test@example.com"}, deps.sender.sentTo())
}

func TestLoginPage_SubmitFailureKeepsEmail(t *testing.T) {
	deps := newTestDeps()
	srv := newPageServer(t, deps)

	status, body := submitPage(t, srv, "invalid-email")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Invalid email format")
	assert.Contains(t, body, `value="invalid-email"`)
}

func TestLoginPage_SubmitEmpty(t *testing.T) {
	deps := newTestDeps()
	srv := newPageServer(t, deps)

	status, body := submitPage(t, srv, "")

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body, "Please enter an email address")
	assert.Empty(t, deps.sender.sentTo())
}

func TestLoginPage_SubmitNetworkError(t *testing.T) {
	deps := newTestDeps()
	srv := newPageServer(t, deps)
	deps.transport = loginform.TransportFunc(func(context.Context, model.LoginRequest) (*loginform.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	})

	status, body := submitPage(t, srv, "test@example.com")

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body, loginform.MessageNetwork)
}

func TestValidateEmail(t *testing.T) {
	assert.NoError(t, ValidateEmail("test@example.com"))
	assert.ErrorIs(t, ValidateEmail(""), ErrEmailRequired)
	assert.ErrorIs(t, ValidateEmail("invalid-email"), ErrEmailFormat)
	assert.ErrorIs(t, ValidateEmail(strings.Repeat("a", 250)+"@example.com"), ErrEmailTooLong)
}

func TestLoginPage_SubmitCarriesClientIP(t *testing.T) {
	var got string
	deps := newTestDeps()
	deps.transport = loginform.TransportFunc(func(ctx context.Context, _ model.LoginRequest) (*loginform.Response, error) {
		got, _ = loginform.ClientIPFromContext(ctx)
		return &loginform.Response{StatusCode: http.StatusOK, Body: []byte(`{"success":true,"message":"ok"}`)}, nil
	})
	h := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("email=test%40example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "203.0.113.7", got)
}

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/maxatome/go-testdeep/td"
	"github.com/plainq/mailrelay/configkit"
	"github.com/plainq/mailrelay/mailkit"
	"github.com/plainq/mailrelay/ratekit"
	"github.com/plainq/mailrelay/validkit"
)

const (
	testKey    = "secret-key"
	testOrigin = "https://app.example.com"
	validBody  = `{"from":"a@x.com","to":["b@x.com"],"subject":"hi","text":"hello"}`
)

type recordingSender struct {
	mu   sync.Mutex
	sent []mailkit.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, m mailkit.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.sent = append(s.sent, m)

	return nil
}

type fixture struct {
	handler http.Handler
	sender  *recordingSender
	logs    *bytes.Buffer
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	var logs bytes.Buffer

	sender := recordingSender{}

	rl, err := New(Config{
		TrustedOrigins: []string{testOrigin},
		APIKeys:        []string{testKey},
	}, &sender, ratekit.NewLimiter(ratekit.NewMemoryStore(), limit, 0),
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
		WithMessageIDs(func() string { return "01J0TESTMESSAGEID0000000000" }),
		WithRequestIDs(func() string { return "req-1" }),
	)
	td.CmpNoError(t, err)

	return &fixture{handler: rl.Routes(), sender: &sender, logs: &logs}
}

func (f *fixture) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	return w
}

func (f *fixture) post(body string) *httptest.ResponseRecorder {
	return f.do(http.MethodPost, "https://relay.example.com/mail/send", body, map[string]string{
		"X-API-Key":    testKey,
		"Content-Type": "application/json",
	})
}

func (f *fixture) records(t *testing.T) []map[string]any {
	t.Helper()

	var out []map[string]any

	dec := json.NewDecoder(f.logs)
	for dec.More() {
		var rec map[string]any
		td.CmpNoError(t, dec.Decode(&rec))
		out = append(out, rec)
	}

	return out
}

func TestRelay_Send(t *testing.T) {
	f := newFixture(t, 0)

	w := f.post(validBody)

	td.Cmp(t, w.Code, http.StatusOK)
	td.Cmp(t, w.Body.Bytes(), td.Smuggle(json.RawMessage(nil), td.JSON(`{"id":"01J0TESTMESSAGEID0000000000","message":"Email sent successfully"}`)))
	td.Cmp(t, w.Header().Get("X-Request-ID"), "req-1")
	td.Cmp(t, w.Header().Get("RateLimit-Limit"), "100")
	td.Cmp(t, w.Header().Get("RateLimit-Remaining"), "99")
	td.Cmp(t, w.Header().Get("X-Frame-Options"), "DENY")
	td.Cmp(t, w.Header().Get("Content-Security-Policy"), td.Contains("object-src 'none'"))

	td.Cmp(t, f.sender.sent, []mailkit.Message{{
		ID:      "01J0TESTMESSAGEID0000000000",
		From:    "a@x.com",
		To:      []string{"b@x.com"},
		Subject: "hi",
		Text:    "hello",
	}})

	td.Cmp(t, f.records(t), td.Bag(
		td.SuperMapOf(map[string]any{
			"level":      "INFO",
			"msg":        "Email sent",
			"request_id": "req-1",
			"id":         "01J0TESTMESSAGEID0000000000",
			"from":       "a@x.com",
			"to":         []any{"b@x.com"},
			"subject":    "hi",
			"method":     http.MethodPost,
		}, nil),
	))
}

func TestRelay_Rejections(t *testing.T) {
	type tcase struct {
		method  string
		target  string
		body    string
		header  map[string]string
		code    int
		message any
		errors  any
	}

	key := map[string]string{"X-API-Key": testKey}

	tests := map[string]tcase{
		"NeitherTextNorHTML": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    `{"from":"a@x.com","to":["b@x.com"],"subject":"hi"}`,
			header:  key,
			code:    http.StatusBadRequest,
			message: validkit.MsgBody,
			errors:  td.Contains(td.SuperMapOf(map[string]any{"msg": validkit.MsgBody}, nil)),
		},
		"UnknownField": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    `{"from":"a@x.com","to":["b@x.com"],"subject":"hi","text":"hello","foo":"bar"}`,
			header:  key,
			code:    http.StatusBadRequest,
			message: td.Contains("foo"),
			errors:  td.NotEmpty(),
		},
		"AttachmentContentNotBase64": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    `{"from":"a@x.com","to":["b@x.com"],"subject":"hi","text":"hello","attachments":[{"filename":"a.txt","content":"plain text"}]}`,
			header:  key,
			code:    http.StatusBadRequest,
			message: validkit.MsgContentEncoding,
			errors:  td.Contains(td.SuperMapOf(map[string]any{"path": "attachments[0].content"}, nil)),
		},
		"BareStringTo": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    `{"from":"a@x.com","to":"b@x.com","subject":"hi","text":"hello"}`,
			header:  key,
			code:    http.StatusBadRequest,
			message: validkit.MsgToArray,
			errors:  td.NotEmpty(),
		},
		"MissingKey": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    validBody,
			code:    http.StatusUnauthorized,
			message: "Unauthorized Access: invalid API key.",
			errors:  nil,
		},
		"WrongKey": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    validBody,
			header:  map[string]string{"X-API-Key": "guess"},
			code:    http.StatusUnauthorized,
			message: "Unauthorized Access: invalid API key.",
			errors:  nil,
		},
		"UntrustedOrigin": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    validBody,
			header:  map[string]string{"Origin": "https://evil.example.com"},
			code:    http.StatusForbidden,
			message: "Unauthorized Access: untrusted origin",
			errors:  nil,
		},
		"GetWithKey": {
			method:  http.MethodGet,
			target:  "https://relay.example.com/mail/send",
			header:  key,
			code:    http.StatusMethodNotAllowed,
			message: "Method not allowed.",
			errors:  nil,
		},
		"NotAnObject": {
			method:  http.MethodPost,
			target:  "https://relay.example.com/mail/send",
			body:    `[1,2]`,
			header:  key,
			code:    http.StatusBadRequest,
			message: validkit.MsgNotObject,
			errors:  td.NotEmpty(),
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 0)

			w := f.do(tc.method, tc.target, tc.body, tc.header)

			td.Cmp(t, w.Code, tc.code)
			td.Cmp(t, w.Header().Get("Content-Type"), "application/json; charset=utf-8")
			td.Cmp(t, w.Header().Get("X-Request-ID"), "req-1")

			var body map[string]any
			td.CmpNoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			td.Cmp(t, body["message"], tc.message)
			td.Cmp(t, body["errors"], tc.errors)

			td.CmpEmpty(t, f.sender.sent)
			td.Cmp(t, f.records(t), td.Len(1), "exactly one log record per failure")
		})
	}
}

func TestRelay_Transport(t *testing.T) {
	f := newFixture(t, 0)

	w := f.do(http.MethodPost, "http://relay.example.com/mail/send?a=1", validBody, map[string]string{"X-API-Key": testKey})

	td.Cmp(t, w.Code, http.StatusPermanentRedirect)
	td.Cmp(t, w.Header().Get("Location"), "https://relay.example.com/mail/send?a=1")
	td.CmpEmpty(t, f.sender.sent)
}

func TestRelay_Preflight(t *testing.T) {
	f := newFixture(t, 0)

	w := f.do(http.MethodOptions, "https://relay.example.com/mail/send", "", map[string]string{
		"Origin":                         testOrigin,
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "content-type, authorization, x-api-key",
	})

	td.Cmp(t, w.Code, http.StatusNoContent)
	td.Cmp(t, w.Header().Get("Access-Control-Allow-Origin"), testOrigin)
	td.Cmp(t, w.Header().Get("Access-Control-Allow-Methods"), "POST,OPTIONS")
	td.Cmp(t, w.Header().Get("Access-Control-Allow-Headers"), td.Re(`(?i)^content-type, authorization, x-api-key$`))
	td.CmpEmpty(t, f.records(t))

	w = f.do(http.MethodPost, "https://relay.example.com/mail/send", validBody, map[string]string{
		"Origin": testOrigin,
	})

	td.Cmp(t, w.Code, http.StatusOK)
	td.Cmp(t, w.Header().Get("Access-Control-Allow-Origin"), testOrigin)
	td.Cmp(t, f.sender.sent, td.Len(1))
}

func TestRelay_RateLimit(t *testing.T) {
	f := newFixture(t, 3)

	for range 3 {
		td.Cmp(t, f.post(validBody).Code, http.StatusOK)
	}

	w := f.post(validBody)

	td.Cmp(t, w.Code, http.StatusTooManyRequests)
	td.Cmp(t, w.Body.Bytes(), td.Smuggle(json.RawMessage(nil), td.JSON(`{"message":$1}`, ratekit.Message)))
	td.Cmp(t, w.Header().Get("RateLimit-Remaining"), "0")
	td.Cmp(t, w.Header().Get("Retry-After"), td.Not(""))
	td.Cmp(t, f.sender.sent, td.Len(3))

	// Another client address has its own window.
	r := httptest.NewRequest(http.MethodPost, "https://relay.example.com/mail/send", strings.NewReader(validBody))
	r.RemoteAddr = "198.51.100.7:5555"
	r.Header.Set("X-API-Key", testKey)

	w = httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)

	td.Cmp(t, w.Code, http.StatusOK)
}

func TestRelay_DeliveryFailure(t *testing.T) {
	f := newFixture(t, 0)
	f.sender.err = errors.New("554 relay access denied")

	w := f.post(validBody)

	td.Cmp(t, w.Code, http.StatusInternalServerError)
	td.Cmp(t, w.Body.Bytes(), td.Smuggle(json.RawMessage(nil), td.JSON(`{"message":"Failed to send email"}`)))
	td.Cmp(t, w.Body.String(), td.Not(td.Contains("relay access denied")))

	td.Cmp(t, f.records(t), td.Bag(
		td.SuperMapOf(map[string]any{
			"level":   "ERROR",
			"stage":   "deliver",
			"status":  float64(http.StatusInternalServerError),
			"error":   td.Contains("relay access denied"),
			"from":    "a@x.com",
			"subject": "hi",
		}, nil),
	))
}

func TestRelay_BodyTooLarge(t *testing.T) {
	var logs bytes.Buffer

	rl, err := New(Config{APIKeys: []string{testKey}, MaxBodyBytes: 16},
		&recordingSender{}, ratekit.NewLimiter(ratekit.NewMemoryStore(), 0, 0),
		WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))),
	)
	td.CmpNoError(t, err)

	r := httptest.NewRequest(http.MethodPost, "https://relay.example.com/mail/send", strings.NewReader(validBody))
	r.Header.Set("X-API-Key", testKey)

	w := httptest.NewRecorder()
	rl.ServeHTTP(w, r)

	td.Cmp(t, w.Code, http.StatusRequestEntityTooLarge)
	td.Cmp(t, w.Body.Bytes(), td.Smuggle(json.RawMessage(nil), td.JSON(`{"message":"Request body too large."}`)))
}

func TestNew_Errors(t *testing.T) {
	limiter := ratekit.NewLimiter(ratekit.NewMemoryStore(), 0, 0)

	_, err := New(Config{}, nil, limiter)
	td.CmpError(t, err)

	_, err = New(Config{}, &recordingSender{}, nil)
	td.CmpError(t, err)
}

func TestNewBackend(t *testing.T) {
	f := func(mutate func(c *configkit.Config), want string) {
		t.Helper()

		cfg := configkit.Default()
		cfg.SMTP.Host = "smtp.example.com"
		cfg.Resend.APIKey = "re_123"
		mutate(&cfg)

		backend, name, err := NewBackend(context.Background(), cfg, nil)
		td.CmpNoError(t, err)
		td.Cmp(t, name, want)
		td.CmpNotNil(t, backend)
	}

	f(func(*configkit.Config) {}, configkit.ProviderSMTP)
	f(func(c *configkit.Config) { c.Mail.Provider = configkit.ProviderResend }, configkit.ProviderResend)
	f(func(c *configkit.Config) { c.Mail.Provider = configkit.ProviderLog }, configkit.ProviderLog)
	f(func(c *configkit.Config) {
		c.Mail.Provider = configkit.ProviderResend
		c.Environment = configkit.EnvDevelopment
	}, configkit.ProviderLog)

	cfg := configkit.Default()
	cfg.Mail.Provider = "pigeon"

	_, _, err := NewBackend(context.Background(), cfg, nil)
	td.CmpError(t, err)
}

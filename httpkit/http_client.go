package httpkit

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/plainq/mailrelay/retry"
)

const (
	// defaultNetDialTimeout represents default value
	// for net.Dialer Timeout field.
	defaultNetDialTimeout = 30 * time.Second

	// defaultKeepAliveTimeout represents default value
	// for net.Dialer KeepAlive field.
	defaultKeepAliveTimeout = 30 * time.Second

	// defaultTLSHandshakeTimeout represents default value
	// for http.Transport TLSHandshakeTimeout field.
	defaultTLSHandshakeTimeout = 5 * time.Second

	// defaultMaxIdleConns represents default value
	// for http.Transport MaxIdleConns field.
	defaultMaxIdleConns = 100

	// defaultIdleConnTimeout represents default value
	// for http.Transport IdleConnTimeout field.
	defaultIdleConnTimeout = 90 * time.Second

	// defaultExpectContinueTimeout represents default value
	// for http.Transport ExpectContinueTimeout field.
	defaultExpectContinueTimeout = time.Second

	// ErrNonPublicAddress is returned by the dialer of a client built with
	// WithPublicAddressesOnly when the target resolves to a non public IP.
	ErrNonPublicAddress Error = "refusing to connect to a non public address"
)

var (
	// defaultMaxIdleConnsPerHost represents default value
	// for http.Transport MaxIdleConnsPerHost field.
	defaultMaxIdleConnsPerHost = runtime.GOMAXPROCS(0) + 1

	// redirectsErrRegExp matches the error returned by net/http
	// when the configured number of redirects is reached.
	redirectsErrRegExp = regexp.MustCompile(`stopped after \d+ redirects\z`)

	// schemeErrRegExp matches the error returned by net/http
	// when scheme specified in the URL is invalid.
	schemeErrRegExp = regexp.MustCompile(`unsupported protocol scheme`)
)

// Error represents package level errors.
type Error string

func (e Error) Error() string { return string(e) }

// ClientConfig holds configuration options which will be applied to http.Client.
type ClientConfig struct {
	dialer *net.Dialer

	retry retry.Options

	timeout               time.Duration
	tlsHandshakeTimeout   time.Duration
	maxIdleConns          int
	maxIdleConnsPerHost   int
	idleConnTimeout       time.Duration
	expectContinueTimeout time.Duration
	responseHeaderTimeout time.Duration
}

func (c *ClientConfig) transport() *http.Transport {
	transport := http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           c.dialer.DialContext,
		TLSHandshakeTimeout:   c.tlsHandshakeTimeout,
		MaxIdleConns:          c.maxIdleConns,
		MaxIdleConnsPerHost:   c.maxIdleConnsPerHost,
		IdleConnTimeout:       c.idleConnTimeout,
		ResponseHeaderTimeout: c.responseHeaderTimeout,
		ExpectContinueTimeout: c.expectContinueTimeout,
	}

	return &transport
}

// ClientOption represents functional options pattern for ClientConfig type.
// ClientOption functions can only be passed to NewClient function.
type ClientOption func(config *ClientConfig)

// WithTimeout limits the whole exchange including retries.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(config *ClientConfig) { config.timeout = timeout }
}

// WithTLSHandshakeTimeout sets timeout for TLS handshake.
func WithTLSHandshakeTimeout(timeout time.Duration) ClientOption {
	return func(config *ClientConfig) { config.tlsHandshakeTimeout = timeout }
}

// WithDialTimeout sets the dial timeout of the underlying net.Dialer.
func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(config *ClientConfig) { config.dialer.Timeout = timeout }
}

// WithMaxIdleConnsPerHost sets the MaxIdleConnsPerHost value to
// underlying http.Transport of http.Client.
func WithMaxIdleConnsPerHost(maxn int) ClientOption {
	return func(config *ClientConfig) { config.maxIdleConnsPerHost = maxn }
}

// WithResponseHeaderTimeout sets the ResponseHeaderTimeout value to
// underlying http.Transport of http.Client.
func WithResponseHeaderTimeout(timeout time.Duration) ClientOption {
	return func(config *ClientConfig) { config.responseHeaderTimeout = timeout }
}

// WithPublicAddressesOnly makes the client refuse connections to loopback,
// private, link-local and unspecified addresses. The check runs on the
// resolved IP so DNS names pointing inside the network are refused too.
func WithPublicAddressesOnly() ClientOption {
	return func(config *ClientConfig) {
		config.dialer.Control = func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}

			ip := net.ParseIP(host)
			if ip == nil || !isPublicIP(ip) {
				return fmt.Errorf("%w: %s", ErrNonPublicAddress, host)
			}

			return nil
		}
	}
}

// WithRetries configure http.Client to do retries
// when request failed and retry could be made.
func WithRetries(options ...retry.Option) ClientOption {
	return func(config *ClientConfig) { config.retry = retry.NewOptions(options...) }
}

// NewClient takes options to configure and return
// a pointer to a new instance of http.Client.
func NewClient(options ...ClientOption) *http.Client {
	cfg := ClientConfig{
		dialer: &net.Dialer{
			Timeout:   defaultNetDialTimeout,
			KeepAlive: defaultKeepAliveTimeout,
		},

		retry: retry.NewOptions(),

		tlsHandshakeTimeout:   defaultTLSHandshakeTimeout,
		maxIdleConns:          defaultMaxIdleConns,
		maxIdleConnsPerHost:   defaultMaxIdleConnsPerHost,
		idleConnTimeout:       defaultIdleConnTimeout,
		expectContinueTimeout: defaultExpectContinueTimeout,
	}

	for _, option := range options {
		option(&cfg)
	}

	tripper := roundTripper{
		maxAttempts: cfg.retry.MaxRetries(),
		backoff:     cfg.retry.Backoff(),
		transport:   cfg.transport(),
	}

	client := http.Client{
		Transport: &tripper,
		Timeout:   cfg.timeout,
	}

	return &client
}

// roundTripper implements http.RoundTripper over a tuned http.Transport
// and repeats requests which failed in a retryable way.
type roundTripper struct {
	maxAttempts uint
	backoff     retry.Backoff
	transport   http.RoundTripper
}

//nolint:revive // cyclomatic is acceptable here.
func (t *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var bodyReader io.ReadSeeker

	if req.Body != nil && req.Body != http.NoBody {
		body, readBodyErr := io.ReadAll(req.Body)
		if readBodyErr != nil {
			return nil, readBodyErr
		}

		bodyReader = bytes.NewReader(body)

		// Here we set the io.NopCloser as request body
		// to prevent closing the body between retries.
		req.Body = io.NopCloser(bodyReader)
	}

	var (
		res    *http.Response
		resErr error
	)

	for i := uint(0); i <= t.maxAttempts; i++ {
		if i > 0 {
			if res != nil {
				// Drain the previous response body to reuse the connection.
				_, _ = io.Copy(io.Discard, res.Body)
				_ = res.Body.Close()
			}

			if err := sleep(req.Context(), t.wait(i, res)); err != nil {
				return nil, err
			}

			if bodyReader != nil {
				if _, err := bodyReader.Seek(0, io.SeekStart); err != nil {
					return nil, fmt.Errorf("failed to rewind request body to the beginning: %w", err)
				}
			}
		}

		res, resErr = t.transport.RoundTrip(req)

		if resErr != nil {
			if !retryableErr(resErr) || req.Context().Err() != nil {
				return nil, resErr
			}

			res = nil
			continue
		}

		if !retryableStatus(res.StatusCode) {
			return res, nil
		}
	}

	if resErr != nil {
		return nil, resErr
	}

	return res, nil
}

// wait returns the pause before the attempt i. Retry-After given in seconds
// by a 429 or 503 response takes precedence over the backoff.
func (t *roundTripper) wait(i uint, res *http.Response) time.Duration {
	if res != nil && (res.StatusCode == http.StatusTooManyRequests || res.StatusCode == http.StatusServiceUnavailable) {
		if after, err := strconv.ParseInt(res.Header.Get("Retry-After"), 10, 64); err == nil && after >= 0 {
			return time.Duration(after) * time.Second
		}
	}

	return t.backoff.Next(i)
}

func retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests:
		return true

	case code == http.StatusNotImplemented:
		return false

	default:
		return code >= http.StatusInternalServerError
	}
}

func retryableErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrNonPublicAddress) {
		return false
	}

	msg := err.Error()
	if redirectsErrRegExp.MatchString(msg) || schemeErrRegExp.MatchString(msg) {
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	// Certificate problems won't go away on retry.
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		return false
	}

	var hostnameErr x509.HostnameError
	return !errors.As(err, &hostnameErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()

	case <-timer.C:
		return nil
	}
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast())
}

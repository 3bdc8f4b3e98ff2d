package vlllm

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

type transportOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxIdleConns   int
	MaxConns       int
	DialRetries    int
	SkipTLSVerify  bool
}

// newHTTPClient builds the pooled client shared by every session. There is
// no overall client timeout because responses are long-lived streams; the
// read timeout applies between body reads instead.
func newHTTPClient(opts transportOptions) *http.Client {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}

	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           retryingDial(dialer, opts.DialRetries),
		MaxIdleConns:          opts.MaxConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConns,
		MaxConnsPerHost:       opts.MaxConns,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ForceAttemptHTTP2:     true,
	}
	if opts.SkipTLSVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{Transport: &idleTimeoutTransport{base: base, timeout: opts.ReadTimeout}}
}

// retryingDial retries connection establishment only. Once a connection
// exists nothing is retried, so a request is never replayed mid-stream.
func retryingDial(dialer *net.Dialer, retries int) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if retries < 0 {
		retries = 0
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		var lastErr error
		for attempt := 0; attempt <= retries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
				}
			}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err == nil {
				return conn, nil
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		return nil, fmt.Errorf("dial %s after %d attempts: %w", addr, retries+1, lastErr)
	}
}

type idleTimeoutTransport struct {
	base    http.RoundTripper
	timeout time.Duration
}

func (t *idleTimeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || t.timeout <= 0 {
		return resp, err
	}
	resp.Body = newIdleTimeoutBody(resp.Body, t.timeout)
	return resp, nil
}

// idleTimeoutBody closes the underlying body when no bytes arrive within
// timeout. The timer is re-armed after every successful read.
type idleTimeoutBody struct {
	rc      io.ReadCloser
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

func newIdleTimeoutBody(rc io.ReadCloser, timeout time.Duration) *idleTimeoutBody {
	b := &idleTimeoutBody{rc: rc, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() {
		b.expired.Store(true)
		_ = rc.Close()
	})
	return b
}

func (b *idleTimeoutBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if b.expired.Load() {
		return n, errIdleTimeout
	}
	if n > 0 {
		b.timer.Reset(b.timeout)
	}
	return n, err
}

func (b *idleTimeoutBody) Close() error {
	b.timer.Stop()
	return b.rc.Close()
}

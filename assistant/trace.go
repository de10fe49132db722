package assistant

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync/atomic"
	"time"
)

type networkMetrics struct {
	DNS        time.Duration
	TCP        time.Duration
	TLS        time.Duration
	TTFB       time.Duration
	Total      time.Duration
	ConnReused bool
	TLSProto   string
}

type tracedResponse struct {
	Body       []byte
	StatusCode int
	Status     string
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
}

// send performs req with an httptrace attached and reads the whole body.
// Metrics are filled in as far as the request got, even on error.
func send(hc *http.Client, req *http.Request) (*tracedResponse, *networkMetrics, error) {
	metrics := &networkMetrics{}
	var dnsStart, tcpStart, tlsStart time.Time
	// Written by the transport's write loop, read by its read loop.
	var wroteRequest atomic.Int64

	trace := &httptrace.ClientTrace{
		GotConn:      func(info httptrace.GotConnInfo) { metrics.ConnReused = info.Reused },
		DNSStart:     func(_ httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:      func(_ httptrace.DNSDoneInfo) { metrics.DNS = time.Since(dnsStart) },
		ConnectStart: func(_, _ string) { tcpStart = time.Now() },
		ConnectDone:  func(_, _ string, _ error) { metrics.TCP = time.Since(tcpStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			metrics.TLS = time.Since(tlsStart)
			metrics.TLSProto = cs.NegotiatedProtocol
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) { wroteRequest.Store(time.Now().UnixNano()) },
		GotFirstResponseByte: func() {
			if wrote := wroteRequest.Load(); wrote != 0 {
				metrics.TTFB = time.Since(time.Unix(0, wrote))
			}
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	reqStart := time.Now()

	resp, err := hc.Do(req)
	if err != nil {
		metrics.Total = time.Since(reqStart)
		return nil, metrics, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.Total = time.Since(reqStart)
	if err != nil {
		return nil, metrics, err
	}

	return &tracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}, metrics, nil
}

// Package assistant is the HTTP client for the question-answering backend:
// POST /chat, POST /transcribe and POST /reset.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"chikitsa/log"
)

const (
	EndpointChat       = "/chat"
	EndpointTranscribe = "/transcribe"
	EndpointReset      = "/reset"
)

type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	retry   RetryPolicy
	timeout time.Duration
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Transport: newTransport()},
		retry:   defaultRetryPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) setHeader(key, value string) {
	if c.headers == nil {
		c.headers = map[string]string{}
	}
	c.headers[key] = value
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer string `json:"answer"`
	Error  string `json:"error,omitempty"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

type resetResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ask sends question to /chat and returns the answer, which may be empty.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(chatRequest{Question: question})
	if err != nil {
		return "", err
	}
	var out chatResponse
	if err := c.do(ctx, EndpointChat, "application/json", body, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &ReplyError{Endpoint: EndpointChat, Message: out.Error}
	}
	return out.Answer, nil
}

// Transcribe uploads one recording as the multipart file field "audio".
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", ErrEmptyAudio
	}
	if filename == "" {
		filename = "audio.wav"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	var out transcribeResponse
	if err := c.do(ctx, EndpointTranscribe, writer.FormDataContentType(), buf.Bytes(), &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", &ReplyError{Endpoint: EndpointTranscribe, Message: out.Error}
	}
	return strings.TrimSpace(out.Transcript), nil
}

// Reset asks the backend to forget the conversation history.
func (c *Client) Reset(ctx context.Context) error {
	var out resetResponse
	if err := c.do(ctx, EndpointReset, "", nil, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return &ReplyError{Endpoint: EndpointReset, Message: out.Error}
	}
	return nil
}

// Ping sends HEAD / and reports the connection setup time. Any HTTP
// status counts as reachable.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/", nil)
	if err != nil {
		return 0, err
	}
	_, m, err := send(c.http, req)
	if err != nil {
		return 0, err
	}
	return m.TCP + m.TLS, nil
}

// Warm opens a connection to the backend ahead of the first question and
// reports how long it took. Failures are ignored.
func (c *Client) Warm(ctx context.Context) time.Duration {
	d, err := c.Ping(ctx)
	if err != nil {
		log.Debugf("warm %s: %v", c.baseURL, err)
		return 0
	}
	return d
}

func (c *Client) newRequest(ctx context.Context, endpoint, contentType string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, r)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// do POSTs body to endpoint, retrying per the policy, and decodes a 2xx
// JSON body into out. An empty 2xx body leaves out untouched.
func (c *Client) do(ctx context.Context, endpoint, contentType string, body []byte, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	attempts := max(c.retry.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retry.Delay):
			}
		}

		req, err := c.newRequest(ctx, endpoint, contentType, body)
		if err != nil {
			return err
		}
		resp, m, err := send(c.http, req)
		c.logRequest(endpoint, attempt, len(body), resp, m, err)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || !c.shouldRetry(0) || attempt == attempts {
				return fmt.Errorf("%s: %w", endpoint, err)
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			herr := &HTTPError{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Status:     resp.Status,
				Body:       strings.TrimSpace(string(resp.Body)),
			}
			lastErr = herr
			if !c.shouldRetry(resp.StatusCode) || attempt == attempts {
				return herr
			}
			continue
		}

		if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", endpoint, err)
		}
		return nil
	}
	return lastErr
}

func (c *Client) shouldRetry(status int) bool {
	if c.retry.MaxAttempts <= 1 {
		return false
	}
	if status > 0 {
		_, ok := c.retry.RetryStatuses[status]
		return ok
	}
	return c.retry.RetryOnError
}

func (c *Client) logRequest(endpoint string, attempt, reqBytes int, resp *tracedResponse, m *networkMetrics, err error) {
	entry := log.Request{
		Endpoint:    endpoint,
		Attempt:     attempt,
		ReqKB:       float64(reqBytes) / 1024,
		ConnReused:  m.ConnReused,
		TLSProto:    m.TLSProto,
		DNSTimeMs:   float64(m.DNS.Microseconds()) / 1000,
		ConnTimeMs:  float64(m.TCP.Microseconds()) / 1000,
		TLSTimeMs:   float64(m.TLS.Microseconds()) / 1000,
		TTFBMs:      float64(m.TTFB.Microseconds()) / 1000,
		TotalTimeMs: float64(m.Total.Microseconds()) / 1000,
		Err:         err,
	}
	if resp != nil {
		entry.Status = resp.StatusCode
	}
	log.RequestMetrics(entry)
}

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

var ErrMalformedHost = errors.New("malformed host")

// Client talks to one Ollama server. It is bound to the host it was created with.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New validates host and returns a Client for it. No request is made.
func New(host string, opts ...Option) (*Client, error) {
	host = strings.TrimSpace(host)
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrMalformedHost, host, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w %q: scheme must be http or https", ErrMalformedHost, host)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w %q: no host", ErrMalformedHost, host)
	}
	ret := &Client{
		baseURL:    strings.TrimSuffix(host, "/"),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret, nil
}

func (c *Client) Host() string {
	return c.baseURL
}

func (c *Client) do(ctx context.Context, method string, path string, payload any) (body io.ReadCloser, err error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer CloseAndWarnIfFail(resp.Body)
		return nil, newStatusError(resp)
	}
	return resp.Body, nil
}

func newStatusError(resp *http.Response) error {
	ret := &StatusError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		ret.Message = err.Error()
		return ret
	}
	var e Error
	if err := json.Unmarshal(data, &e); err == nil && e.Message != "" {
		ret.Message = e.Message
	} else {
		ret.Message = strings.TrimSpace(string(data))
	}
	return ret
}

func CloseAndWarnIfFail(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("potential resource leak as failed to close body", "err", err)
	}
}

// Version asks the server for its version, which doubles as a reachability check.
func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/version", nil)
	if err != nil {
		return "", fmt.Errorf("fetch version: %w", err)
	}
	defer CloseAndWarnIfFail(body)

	var resp VersionResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decode version: %w", err)
	}
	return resp.Version, nil
}

// Show describes model. It fails when the server does not know the model.
func (c *Client) Show(ctx context.Context, model string) (*ShowResponse, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/show", ShowRequest{Model: model})
	if err != nil {
		return nil, fmt.Errorf("show model %q: %w", model, err)
	}
	defer CloseAndWarnIfFail(body)

	var resp ShowResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode model %q: %w", model, err)
	}
	return &resp, nil
}

// Generate opens a streaming generation. Stream is forced on.
// The caller owns the returned Stream and must Close it.
func (c *Client) Generate(ctx context.Context, request GenerateRequest) (*Stream, error) {
	request.Stream = true
	body, err := c.do(ctx, http.MethodPost, "/api/generate", request)
	if err != nil {
		return nil, fmt.Errorf("open generation: %w", err)
	}
	return newStream(body), nil
}

// Stream decodes the NDJSON body of a streaming generation, one chunk per line.
// Usage follows the Next, Current, Err pattern.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	current GenerateChunk
	done    bool
	err     error
}

// maxLineSize bounds one NDJSON line. A single fragment is small, but the final chunk may carry context.
const maxLineSize = 4 << 20

func newStream(body io.ReadCloser) *Stream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Stream{body: body, scanner: scanner}
}

func (s *Stream) Next() bool {
	if s.err != nil || s.done {
		return false
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk GenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			s.err = fmt.Errorf("decode chunk %q: %w", line, err)
			return false
		}
		if chunk.Error != "" {
			s.err = fmt.Errorf("server error in stream: %s", chunk.Error)
			return false
		}
		s.current = chunk
		s.done = chunk.Done
		return true
	}
	// EOF without a done chunk is still a normal end, the server simply has no more to say.
	if err := s.scanner.Err(); err != nil {
		s.err = fmt.Errorf("read stream: %w", err)
	}
	return false
}

func (s *Stream) Current() GenerateChunk {
	return s.current
}

func (s *Stream) Err() error {
	return s.err
}

func (s *Stream) Close() error {
	return s.body.Close()
}

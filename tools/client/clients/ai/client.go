package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/hyisen/wf"
	"io"
	"llmtoolbox/clients/ollama"
	"llmtoolbox/service"
	"llmtoolbox/service/connection"
	"llmtoolbox/service/generation"
	"net/http"
	"net/url"
	"strings"
)

type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: http.DefaultClient,
	}
}

func VerifyStatusReadBodyOnFail(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("unexpected http status code %d no body %v", resp.StatusCode, err)
	}
	return fmt.Errorf("unexpected http status code %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}

func (c *HTTPClient) newRequest(ctx context.Context, path string, contentType string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return req, nil
}

func (c *HTTPClient) doAndDecode(req *http.Request, v any) (err error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func(c io.Closer) {
		err = errors.Join(err, c.Close())
	}(resp.Body)

	if err := VerifyStatusReadBodyOnFail(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *HTTPClient) doAndStream(req *http.Request) (words <-chan string, err error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if err := VerifyStatusReadBodyOnFail(resp); err != nil {
		ollama.CloseAndWarnIfFail(resp.Body)
		return nil, err
	}

	ch := make(chan string)
	// Pass owner of body to goroutine, DO NOT close it here.
	go transform(resp.Body, ch)
	return ch, nil
}

// Connect reports a refused connection through the returned status, not err.
func (c *HTTPClient) Connect(ctx context.Context, host, model string) (*connection.Status, error) {
	data, err := json.Marshal(service.ConnectRequest{Host: host, Model: model})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, "/v1/connection", wf.JSONContentType, data)
	if err != nil {
		return nil, err
	}
	var rsp service.ConnectResponse
	if err := c.doAndDecode(req, &rsp); err != nil {
		return nil, err
	}
	return &rsp.Status, nil
}

func (c *HTTPClient) Generate(ctx context.Context, system, user string) (words <-chan string, err error) {
	data, err := json.Marshal(generation.Prompt{System: system, User: user})
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, "/v1/generate?stream=true", wf.JSONContentType, data)
	if err != nil {
		return nil, err
	}
	return c.doAndStream(req)
}

func (c *HTTPClient) Preview(ctx context.Context, name string, data []byte) (text string, err error) {
	req, err := c.newRequest(ctx, "/v1/documents/"+url.PathEscape(name), "application/octet-stream", data)
	if err != nil {
		return "", err
	}
	var rsp service.DocumentResponse
	if err := c.doAndDecode(req, &rsp); err != nil {
		return "", err
	}
	return rsp.Text, nil
}

func (c *HTTPClient) Summarize(ctx context.Context, name string, data []byte) (words <-chan string, err error) {
	req, err := c.newRequest(ctx, "/v1/summaries/"+url.PathEscape(name)+"?stream=true", "application/octet-stream", data)
	if err != nil {
		return nil, err
	}
	return c.doAndStream(req)
}

package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hyisen/wf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmtoolbox/clients/profile"
	"llmtoolbox/internal/ollamatest"
	"llmtoolbox/service/connection"
	"llmtoolbox/service/generation"
)

type fixture struct {
	ollama  *ollamatest.Server
	manager *connection.Manager
	service *Service
	web     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ollama := ollamatest.NewServer("llama3.2")
	t.Cleanup(ollama.Close)

	profiles, err := profile.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = profiles.Close()
	})

	manager := connection.NewManager(
		connection.Config{Host: ollama.URL, Model: "llama3.2"},
		connection.WithOnConnected(func(ctx context.Context, config connection.Config) {
			_ = profiles.Touch(ctx, config.Host, config.Model, time.Now())
		}),
	)
	service := New(manager, generation.NewStreamer(manager), profiles)
	web := httptest.NewServer(service)
	t.Cleanup(web.Close)
	return &fixture{ollama: ollama, manager: manager, service: service, web: web}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Connect(context.Background(), connection.Config{Host: f.ollama.URL, Model: "llama3.2"}))
}

func (f *fixture) post(t *testing.T, path string, contentType string, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(f.web.URL+path, contentType, strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestPage(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.web.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	page := string(data)
	assert.Contains(t, page, "LLM Toolbox")
	assert.Contains(t, page, f.ollama.URL)
	assert.Contains(t, page, generation.DefaultSystemPrompt)
	assert.Contains(t, page, ".pdf,.txt")
}

func TestConnectEndpoint(t *testing.T) {
	f := newFixture(t)

	code, body := f.post(t, "/v1/connection", wf.JSONContentType, `{"host":"`+f.ollama.URL+`","model":"nope"}`)
	require.Equal(t, http.StatusOK, code)
	var failed ConnectResponse
	require.NoError(t, json.Unmarshal([]byte(body), &failed))
	assert.False(t, failed.Success)
	assert.NotEmpty(t, failed.Error)
	assert.Equal(t, connection.Failed, failed.Status.State)

	code, body = f.post(t, "/v1/connection", wf.JSONContentType, `{"host":"`+f.ollama.URL+`","model":"llama3.2"}`)
	require.Equal(t, http.StatusOK, code)
	var ok ConnectResponse
	require.NoError(t, json.Unmarshal([]byte(body), &ok))
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)
	assert.Equal(t, connection.Connected, ok.Status.State)

	resp, err := http.Get(f.web.URL + "/v1/profiles")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), `"model":"llama3.2"`)
	assert.NotContains(t, string(data), `"nope"`)
}

func TestGenerateRejectsBeforeUpstream(t *testing.T) {
	f := newFixture(t)

	code, _ := f.post(t, "/v1/generate", wf.JSONContentType, `{"system":"s","user":"hi"}`)
	assert.Equal(t, http.StatusConflict, code)

	f.connect(t)
	for _, path := range []string{"/v1/generate", "/v1/generate?stream=true"} {
		code, _ = f.post(t, path, wf.JSONContentType, `{"system":"s","user":"   "}`)
		assert.Equal(t, http.StatusBadRequest, code, path)
	}
	assert.Equal(t, 0, f.ollama.Hits("/api/generate"))
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.ollama.SetFragments("Hel", "lo")

	code, body := f.post(t, "/v1/generate", wf.JSONContentType, `{"user":"hi"}`)
	require.Equal(t, http.StatusOK, code)
	var got GenerateResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "Hello", got.Text)
}

func TestGenerateUpstreamFailure(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.ollama.SetGenerateStatus(http.StatusInternalServerError)

	code, _ := f.post(t, "/v1/generate", wf.JSONContentType, `{"user":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, 2, f.ollama.Hits("/api/show"))
}

func TestReadDocument(t *testing.T) {
	f := newFixture(t)

	code, body := f.post(t, "/v1/documents/notes.txt", "application/octet-stream", "hello\nworld")
	require.Equal(t, http.StatusOK, code)
	var got DocumentResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, DocumentResponse{Name: "notes.txt", Text: "hello\nworld"}, got)

	code, _ = f.post(t, "/v1/documents/image.png", "application/octet-stream", "png")
	assert.Equal(t, http.StatusUnsupportedMediaType, code)

	code, _ = f.post(t, "/v1/documents/notes.txt", "application/octet-stream", "\xff\xfe")
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = f.post(t, "/v1/documents/report.pdf", "application/octet-stream", "no pdf")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestSummarizeRejectsUnreadable(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	code, _ := f.post(t, "/v1/summaries/image.png?stream=true", "application/octet-stream", "png")
	assert.Equal(t, http.StatusUnsupportedMediaType, code)
	assert.Equal(t, 0, f.ollama.Hits("/api/generate"))
}

func drain(ch <-chan wf.MessageEvent) []wf.MessageEvent {
	var ret []wf.MessageEvent
	for event := range ch {
		ret = append(ret, event)
	}
	return ret
}

func types(events []wf.MessageEvent) []string {
	var ret []string
	for _, event := range events {
		ret = append(ret, event.TypeOptional)
	}
	return ret
}

func TestGenerateStreamEvents(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.ollama.SetFragments("# Hel", "lo\nworld")

	ch, e := f.service.GenerateStream(context.Background(), &generation.Prompt{System: "sys", User: "hi"})
	require.Nil(t, e)
	events := drain(ch)

	assert.Equal(t, []string{EventHead, "", EventHTML, "", EventHTML, EventDebug, EventFinish}, types(events))
	assert.Equal(t, []string{"# Hel"}, events[1].Lines)
	assert.Equal(t, []string{"# Hello", "world"}, events[3].Lines)
	assert.Contains(t, strings.Join(events[4].Lines, "\n"), "<h1>Hello</h1>")

	var d debugInfo
	require.NoError(t, json.Unmarshal([]byte(events[5].Lines[0]), &d))
	assert.Equal(t, "llama3.2", d.Model)
	assert.Equal(t, 3, d.SystemPromptLength)
	assert.Equal(t, 2, d.UserPromptLength)
}

func TestGenerateStreamErrorEvents(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.ollama.SetFragments("par")
	f.ollama.SetStreamError("boom")

	ch, e := f.service.GenerateStream(context.Background(), &generation.Prompt{User: "hi"})
	require.Nil(t, e)
	events := drain(ch)

	assert.Equal(t, []string{EventHead, "", EventHTML, EventError, EventStatus}, types(events))
	assert.Contains(t, strings.Join(events[3].Lines, "\n"), "boom")
	assert.Contains(t, events[4].Lines[0], `"state":"Connected"`)
}

func TestGenerateStreamClientGone(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.ollama.SetFragments("a", "b", "c")

	ctx, cancel := context.WithCancel(context.Background())
	ch, e := f.service.GenerateStream(ctx, &generation.Prompt{User: "hi"})
	require.Nil(t, e)
	<-ch // head
	cancel()
	// the producer must not block forever on an abandoned channel
	for range ch {
	}
}

func TestUploadParser(t *testing.T) {
	parse := UploadParser("/v1/documents/")

	got, err := parse([]byte("x"), "/v1/documents/my%20notes.md")
	require.NoError(t, err)
	assert.Equal(t, &Upload{Name: "my notes.md", Data: []byte("x")}, got)

	got, err = parse(nil, "/v1/documents/100%.txt")
	require.NoError(t, err)
	assert.Equal(t, "100%.txt", got.(*Upload).Name)

	for _, path := range []string{"/v1/documents/", "/v1/documents/a/b.txt", "/v1/other/a.txt"} {
		_, err := parse(nil, path)
		assert.Error(t, err, path)
	}
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/hyisen/wf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"llmtoolbox/clients/document"
	"llmtoolbox/clients/model"
	"llmtoolbox/clients/profile"
	"llmtoolbox/service/connection"
	"llmtoolbox/service/generation"
	"log/slog"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"
)

// ProfileLimit caps how many remembered connections the form offers.
const ProfileLimit = 10

type Service struct {
	manager  *connection.Manager
	streamer *generation.Streamer
	profiles *profile.Repository // optional
	markdown goldmark.Markdown
	web      *wf.Web
}

func (s *Service) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	s.web.ServeHTTP(writer, request)
}

type ConnectRequest struct {
	Host  string `json:"host"`
	Model string `json:"model"`
}

type ConnectResponse struct {
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
	Status  connection.Status `json:"status"`
}

// Connect never fails at HTTP level: a refused connection is a status to show, not a fault.
func (s *Service) Connect(ctx context.Context, req *ConnectRequest) (*ConnectResponse, *wf.CodedError) {
	err := s.manager.Connect(ctx, connection.Config{Host: req.Host, Model: req.Model})
	ret := &ConnectResponse{
		Success: err == nil,
		Status:  s.manager.Status(),
	}
	if err != nil {
		ret.Error = err.Error()
	}
	return ret, nil
}

func (s *Service) Status(_ context.Context) (connection.Status, *wf.CodedError) {
	return s.manager.Status(), nil
}

func (s *Service) FindProfiles(ctx context.Context) ([]*model.Profile, *wf.CodedError) {
	if s.profiles == nil {
		return []*model.Profile{}, nil
	}
	ret, err := s.profiles.FindRecent(ctx, ProfileLimit)
	if err != nil {
		return nil, wf.NewCodedError(http.StatusInternalServerError, err)
	}
	return ret, nil
}

type GenerateResponse struct {
	Text string `json:"text"`
}

func (s *Service) Generate(ctx context.Context, prompt *generation.Prompt) (*GenerateResponse, *wf.CodedError) {
	if e := s.precheck(*prompt); e != nil {
		return nil, e
	}
	text, err := generation.Collect(s.streamer.Stream(ctx, *prompt))
	if err != nil {
		return nil, NewCodedError(err)
	}
	return &GenerateResponse{Text: text}, nil
}

// precheck refuses what would never reach the server, before a stream is opened.
func (s *Service) precheck(prompt generation.Prompt) *wf.CodedError {
	if err := prompt.Validate(); err != nil {
		return NewCodedError(err)
	}
	if _, _, ok := s.manager.Client(); !ok {
		return NewCodedError(generation.ErrNotConnected)
	}
	return nil
}

func (s *Service) GenerateStream(ctx context.Context, prompt *generation.Prompt) (<-chan wf.MessageEvent, *wf.CodedError) {
	if e := s.precheck(*prompt); e != nil {
		return nil, e
	}
	down := make(chan wf.MessageEvent)
	go s.translate(ctx, *prompt, down)
	return down, nil
}

// Upload is a file posted as raw body, named by the last path segment.
type Upload struct {
	Name string
	Data []byte
}

type DocumentResponse struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (s *Service) ReadDocument(_ context.Context, upload *Upload) (*DocumentResponse, *wf.CodedError) {
	text, err := document.Read(upload.Name, upload.Data)
	if err != nil {
		slog.Warn("read document", "name", upload.Name, "size", len(upload.Data), "err", err)
		return nil, NewCodedError(err)
	}
	return &DocumentResponse{Name: upload.Name, Text: text}, nil
}

func (s *Service) SummarizeStream(ctx context.Context, upload *Upload) (<-chan wf.MessageEvent, *wf.CodedError) {
	doc, e := s.ReadDocument(ctx, upload)
	if e != nil {
		return nil, e
	}
	prompt := generation.SummaryPrompt(doc.Text)
	return s.GenerateStream(ctx, &prompt)
}

type head struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Host  string `json:"host"`
}

type debugInfo struct {
	Model              string `json:"model"`
	Host               string `json:"host"`
	SystemPromptLength int    `json:"systemPromptLength"`
	UserPromptLength   int    `json:"userPromptLength"`
	ResponseLength     int    `json:"responseLength"`
	ElapsedMillis      int64  `json:"elapsedMillis"`
}

// translate pulls the generation and pushes it down as server-sent events:
// head, then text and html per update, then debug and finish; or error and status on failure.
func (s *Service) translate(ctx context.Context, prompt generation.Prompt, down chan<- wf.MessageEvent) {
	defer close(down)
	start := time.Now()
	id := uuid.NewString()
	_, config, _ := s.manager.Client()
	slog.Info("generation start", "id", id, "model", config.Model, "userPromptLength", len(prompt.User))

	if !send(ctx, down, NewJSONMessageEvent(EventHead, head{ID: id, Model: config.Model, Host: config.Host})) {
		return
	}

	var last string
	seq := s.streamer.Stream(ctx, prompt)
	for text, err := range seq {
		if err != nil {
			slog.Error("generation failed", "id", id, "err", err)
			send(ctx, down, NewErrorMessageEvent(err), NewJSONMessageEvent(EventStatus, s.manager.Status()))
			return
		}
		last = text
		if !send(ctx, down, NewMultiLineMessageEvent(text), s.htmlEvent(text)) {
			return
		}
	}

	send(ctx, down,
		NewJSONMessageEvent(EventDebug, debugInfo{
			Model:              config.Model,
			Host:               config.Host,
			SystemPromptLength: utf8.RuneCountInString(prompt.System),
			UserPromptLength:   utf8.RuneCountInString(prompt.User),
			ResponseLength:     utf8.RuneCountInString(last),
			ElapsedMillis:      time.Since(start).Milliseconds(),
		}),
		NewTypedMultiLineMessageEvent(EventFinish, id),
	)
	slog.Info("generation done", "id", id, "elapsed", time.Since(start))
}

func (s *Service) htmlEvent(text string) wf.MessageEvent {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		return NewErrorMessageEvent(fmt.Errorf("render markdown: %w", err))
	}
	return NewTypedMultiLineMessageEvent(EventHTML, buf.String())
}

// NewCodedError maps an error of the toolbox to an HTTP status.
func NewCodedError(err error) *wf.CodedError {
	var unsupported *document.UnsupportedTypeError
	var streamError *generation.StreamError
	switch {
	case errors.Is(err, generation.ErrEmptyPrompt):
		return wf.NewCodedError(http.StatusBadRequest, err)
	case errors.Is(err, generation.ErrNotConnected):
		return wf.NewCodedError(http.StatusConflict, err)
	case errors.As(err, &unsupported):
		return wf.NewCodedError(http.StatusUnsupportedMediaType, err)
	case errors.Is(err, document.ErrDecode), errors.Is(err, document.ErrParse):
		return wf.NewCodedError(http.StatusUnprocessableEntity, err)
	case errors.As(err, &streamError):
		return wf.NewCodedError(http.StatusBadGateway, err)
	}
	return wf.NewCodedError(http.StatusInternalServerError, err)
}

// UploadParser reads the file name after prefix in path, the body being the file itself.
func UploadParser(prefix string) func(data []byte, path string) (any, error) {
	return func(data []byte, path string) (any, error) {
		rest, found := strings.CutPrefix(path, prefix)
		if !found || rest == "" || strings.Contains(rest, "/") {
			return nil, fmt.Errorf("no file name in path %q", path)
		}
		// path may come decoded already, then a literal % is part of the name
		name, err := url.PathUnescape(rest)
		if err != nil {
			name = rest
		}
		return &Upload{Name: name, Data: data}, nil
	}
}

func prefixMatcher(method string, prefix string) func(req *http.Request) bool {
	return func(req *http.Request) bool {
		return req.Method == method && strings.HasPrefix(req.URL.Path, prefix) && len(req.URL.Path) > len(prefix)
	}
}

func streamQuery(matcher func(req *http.Request) bool, stream bool) func(req *http.Request) bool {
	return func(req *http.Request) bool {
		if !matcher(req) {
			return false
		}
		return (req.URL.Query().Get("stream") == "true") == stream
	}
}

func New(
	manager *connection.Manager,
	streamer *generation.Streamer,
	profiles *profile.Repository,
) *Service {
	ret := &Service{
		manager:  manager,
		streamer: streamer,
		profiles: profiles,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		web:      nil,
	}

	getPage := wf.NewClosureHandler(
		wf.Exact(http.MethodGet, "/"),
		func(data []byte, path string) (any, error) {
			return wf.Empty{}, nil
		},
		func(ctx context.Context, req any) (rsp any, codedError *wf.CodedError) {
			return ret.Page(ctx)
		},
		func(v any) ([]byte, error) {
			return v.([]byte), nil
		},
		HTMLContentType,
	)

	v1GetConnection := wf.NewJSONHandler(
		wf.Exact(http.MethodGet, "/v1/connection"),
		reflect.TypeOf(wf.Empty{}),
		func(ctx context.Context, req any) (rsp any, codedError *wf.CodedError) {
			return ret.Status(ctx)
		},
	)

	v1PostConnection := wf.NewClosureHandler(
		wf.Exact(http.MethodPost, "/v1/connection"),
		wf.JSONParser(reflect.TypeOf(ConnectRequest{})),
		func(ctx context.Context, req any) (rsp any, codedError *wf.CodedError) {
			return ret.Connect(ctx, req.(*ConnectRequest))
		},
		json.Marshal,
		wf.JSONContentType,
	)

	v1GetProfiles := wf.NewJSONHandler(
		wf.Exact(http.MethodGet, "/v1/profiles"),
		reflect.TypeOf(wf.Empty{}),
		func(ctx context.Context, req any) (rsp any, codedError *wf.CodedError) {
			return ret.FindProfiles(ctx)
		},
	)

	v1PostGenerateMatcher := wf.Exact(http.MethodPost, "/v1/generate")
	v1PostGenerateParser := wf.JSONParser(reflect.TypeOf(generation.Prompt{}))
	v1PostGenerate := wf.NewClosureHandler(
		streamQuery(v1PostGenerateMatcher, false),
		v1PostGenerateParser,
		func(ctx context.Context, req any) (rsp any, codedError *wf.CodedError) {
			return ret.Generate(ctx, req.(*generation.Prompt))
		},
		json.Marshal,
		wf.JSONContentType,
	)
	v1PostGenerateStream := wf.NewServerSentEventsHandler(
		streamQuery(v1PostGenerateMatcher, true),
		v1PostGenerateParser,
		func(ctx context.Context, req any) (ch <-chan wf.MessageEvent, codedError *wf.CodedError) {
			return ret.GenerateStream(ctx, req.(*generation.Prompt))
		},
	)

	v1PostDocumentPrefix := "/v1/documents/"
	v1PostDocument := wf.NewClosureHandler(
		prefixMatcher(http.MethodPost, v1PostDocumentPrefix),
		UploadParser(v1PostDocumentPrefix),
		func(ctx context.Context, req any) (rsp any, codedError *wf.CodedError) {
			return ret.ReadDocument(ctx, req.(*Upload))
		},
		json.Marshal,
		wf.JSONContentType,
	)

	v1PostSummaryPrefix := "/v1/summaries/"
	v1PostSummaryStream := wf.NewServerSentEventsHandler(
		prefixMatcher(http.MethodPost, v1PostSummaryPrefix),
		UploadParser(v1PostSummaryPrefix),
		func(ctx context.Context, req any) (ch <-chan wf.MessageEvent, codedError *wf.CodedError) {
			return ret.SummarizeStream(ctx, req.(*Upload))
		},
	)

	ret.web = wf.NewWeb(
		false,
		getPage,
		v1GetConnection,
		v1PostConnection,
		v1GetProfiles,
		v1PostGenerate,
		v1PostGenerateStream,
		v1PostDocument,
		v1PostSummaryStream,
	)
	return ret
}

package service

import (
	"bytes"
	"context"
	"embed"
	"github.com/hyisen/wf"
	"html/template"
	"llmtoolbox/clients/document"
	"llmtoolbox/service/generation"
	"net/http"
	"strings"
)

const HTMLContentType = "text/html; charset=utf-8"

//go:embed static/index.html
var static embed.FS

var pageTemplate = template.Must(template.ParseFS(static, "static/index.html"))

type pageData struct {
	Host                string
	Model               string
	DefaultSystemPrompt string
	Accept              string
	Extensions          string
}

// Page renders the UI with the form prefilled from the current configuration.
func (s *Service) Page(_ context.Context) ([]byte, *wf.CodedError) {
	config := s.manager.Status().Config
	extensions := document.Extensions()
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{
		Host:                config.Host,
		Model:               config.Model,
		DefaultSystemPrompt: generation.DefaultSystemPrompt,
		Accept:              strings.Join(extensions, ","),
		Extensions:          strings.Join(extensions, ", "),
	}); err != nil {
		return nil, wf.NewCodedError(http.StatusInternalServerError, err)
	}
	return buf.Bytes(), nil
}

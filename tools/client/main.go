package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"llmtoolbox/console"
	"llmtoolbox/service/generation"
	"llmtoolbox/tools/client/clients/ai"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var endpoint = flag.String("endpoint", "http://localhost:8640", "llmtoolbox endpoint")

func main() {
	flag.Parse()
	handler := NewLineHandler(ai.NewClient(*endpoint))
	controller := console.NewController(handler, console.NewDefaultOptions())
	if err := controller.Run(); err != nil {
		slog.Error("console", "err", err)
		os.Exit(1)
	}
}

const usage = `connect <host> <model>   connect the server to an Ollama model
system [text]            show or set the system prompt of queries
preview <path>           show the text read from a document
summarize <path>         summarize a document
help                     show this
anything else is sent as a query
`

type LineHandler struct {
	client ai.Client
	system string
}

func NewLineHandler(client ai.Client) *LineHandler {
	return &LineHandler{client: client, system: generation.DefaultSystemPrompt}
}

func (h *LineHandler) HandleLine(line string, out io.Writer) {
	ctx := context.Background()
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	switch command {
	case "":
		return
	case "help":
		_, _ = fmt.Fprint(out, usage)
	case "connect":
		host, model, ok := strings.Cut(rest, " ")
		if !ok {
			_, _ = fmt.Fprintln(out, "usage: connect <host> <model>")
			return
		}
		_, _ = fmt.Fprintln(out, "connecting...")
		status, err := h.client.Connect(ctx, host, strings.TrimSpace(model))
		if err != nil {
			_, _ = fmt.Fprintf(out, "connect: %v\n", err)
			return
		}
		_, _ = fmt.Fprintln(out, ai.StatusLine(status))
	case "system":
		if rest != "" {
			h.system = rest
		}
		_, _ = fmt.Fprintf(out, "system prompt: %s\n", h.system)
	case "preview":
		name, data, ok := readDocument(rest, out)
		if !ok {
			return
		}
		text, err := h.client.Preview(ctx, name, data)
		if err != nil {
			_, _ = fmt.Fprintf(out, "preview: %v\n", err)
			return
		}
		_, _ = fmt.Fprintln(out, text)
	case "summarize":
		name, data, ok := readDocument(rest, out)
		if !ok {
			return
		}
		words, err := h.client.Summarize(ctx, name, data)
		printWords(out, "summarize", words, err)
	default:
		words, err := h.client.Generate(ctx, h.system, line)
		printWords(out, "generate", words, err)
	}
}

func readDocument(path string, out io.Writer) (name string, data []byte, ok bool) {
	if path == "" {
		_, _ = fmt.Fprintln(out, "a document path is required")
		return "", nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(out, "read document: %v\n", err)
		return "", nil, false
	}
	return filepath.Base(path), data, true
}

func printWords(out io.Writer, what string, words <-chan string, err error) {
	if err != nil {
		_, _ = fmt.Fprintf(out, "%s: %v\n", what, err)
		return
	}
	for word := range words {
		_, _ = fmt.Fprint(out, word)
	}
}

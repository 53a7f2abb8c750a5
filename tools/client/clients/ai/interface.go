package ai

import (
	"context"
	"llmtoolbox/service/connection"
)

// Client is what the terminal needs from a toolbox server.
// Each words channel is closed once the server ends the response.
type Client interface {
	Connect(ctx context.Context, host, model string) (*connection.Status, error)
	Generate(ctx context.Context, system, user string) (words <-chan string, err error)
	Preview(ctx context.Context, name string, data []byte) (text string, err error)
	Summarize(ctx context.Context, name string, data []byte) (words <-chan string, err error)
}

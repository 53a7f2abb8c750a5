package ai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"llmtoolbox/service"
	"llmtoolbox/service/connection"
	"log/slog"
	"strings"
)

func transform(body io.ReadCloser, output chan<- string) {
	defer func() {
		_ = body.Close()
		close(output)
	}()

	// The implementation here follows the guideline, in some way.
	// ref https://html.spec.whatwg.org/multipage/server-sent-events.html#event-stream-interpretation
	// Differences (no difference as my server don't use them)
	// - Assume there is always a nice space after :.
	// - Field name "id" and "retry" not supported.
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var r renderer
	eventType := ""
	var data string
	var hasData bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ":") {
			continue
		}
		if value, ok := strings.CutPrefix(line, "event: "); ok {
			eventType = value
			continue
		}
		if value, ok := strings.CutPrefix(line, "data: "); ok {
			if hasData {
				data += "\n"
			}
			data += value
			hasData = true
			continue
		}
		if line == "" {
			if word := r.message(eventType, data); word != "" {
				output <- word
			}
			// DO NOT forget to clean buffer in the end of dispatch.
			eventType = ""
			data = ""
			hasData = false
			continue
		}
		slog.Warn("unexpected line in event stream", "line", line)
	}
	if err := scanner.Err(); err != nil {
		output <- fmt.Sprintf("\n err: %v", err)
	}
}

// renderer turns events into terminal words. Text events carry the whole answer so far,
// so only what is new since the last one is printed.
type renderer struct {
	printed string
}

type headInfo struct {
	Model string `json:"model"`
	Host  string `json:"host"`
}

type debugInfo struct {
	SystemPromptLength int   `json:"systemPromptLength"`
	UserPromptLength   int   `json:"userPromptLength"`
	ResponseLength     int   `json:"responseLength"`
	ElapsedMillis      int64 `json:"elapsedMillis"`
}

func (r *renderer) message(eventType string, data string) (word string) {
	switch eventType {
	case service.EventHead:
		var h headInfo
		if err := json.Unmarshal([]byte(data), &h); err != nil {
			return data + "\n"
		}
		return fmt.Sprintf("[%s @ %s]\n", h.Model, h.Host)
	case "":
		return r.delta(data)
	case service.EventHTML:
		return ""
	case service.EventDebug:
		var d debugInfo
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return "\n" + data
		}
		return fmt.Sprintf("\n\nsystem prompt %d chars, user prompt %d chars, response %d chars in %dms",
			d.SystemPromptLength, d.UserPromptLength, d.ResponseLength, d.ElapsedMillis)
	case service.EventFinish:
		return "\n"
	case service.EventError:
		return fmt.Sprintf("\nserver error: %s\n", data)
	case service.EventStatus:
		var s connection.Status
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return data + "\n"
		}
		return StatusLine(&s) + "\n"
	}
	slog.Warn("skip unknown event", "type", eventType)
	return ""
}

func (r *renderer) delta(text string) string {
	rest, ok := strings.CutPrefix(text, r.printed)
	r.printed = text
	if !ok {
		return "\n" + text
	}
	return rest
}

func StatusLine(s *connection.Status) string {
	if s.Reason != "" {
		return fmt.Sprintf("status: %s: %s", s.State, s.Reason)
	}
	return fmt.Sprintf("status: %s (%s @ %s)", s.State, s.Config.Model, s.Config.Host)
}

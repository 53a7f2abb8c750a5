package service

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/hyisen/wf"
	"log/slog"
	"strings"
)

// Event types on the wire. The default, unnamed type carries the accumulated text.
const (
	EventHead   = "head"
	EventHTML   = "html"
	EventDebug  = "debug"
	EventError  = "error"
	EventStatus = "status"
	EventFinish = "finish"
)

func NewMultiLineMessageEvent(passage string) wf.MessageEvent {
	return NewTypedMultiLineMessageEvent("", passage)
}

func NewTypedMultiLineMessageEvent(typeOptional string, passage string) wf.MessageEvent {
	return wf.MessageEvent{
		TypeOptional: typeOptional,
		// One single LF would become 2 data: with empty value, build to 1 LF again in client.
		Lines: strings.Split(passage, "\n"),
	}
}

func NewErrorMessageEvent(e error) wf.MessageEvent {
	return NewTypedMultiLineMessageEvent(EventError, e.Error())
}

// NewJSONMessageEvent marshall item to JSON string, put alone with typeOptional to the returned value.
// If fails, log err and NewErrorMessageEvent invoked with err would be returned.
func NewJSONMessageEvent(typeOptional string, item any) wf.MessageEvent {
	data, err := json.Marshal(item)
	if err != nil {
		slog.Error("NewJSONMessageEvent encode", "err", err, "item", item)
		return NewErrorMessageEvent(fmt.Errorf("parse item %+v to JSON: %w", item, err))
	}
	return wf.MessageEvent{
		TypeOptional: typeOptional,
		// JSON marshaller escape LF, TestJSONEscapeLine assert that. No split by line needed here.
		Lines: []string{string(data)},
	}
}

// send gives up once ctx is done, so a gone client does not leave the producer blocked.
func send(ctx context.Context, down chan<- wf.MessageEvent, events ...wf.MessageEvent) bool {
	for _, event := range events {
		select {
		case <-ctx.Done():
			slog.Warn("stream interrupted", "error", ctx.Err())
			return false
		case down <- event:
		}
	}
	return true
}

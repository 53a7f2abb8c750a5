package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyisen/wf"
	"github.com/stretchr/testify/assert"
)

type Widget struct {
	ID      int    `json:"id"`
	Message string `json:"message"`
}

func TestJSONEscapeLine(t *testing.T) {
	passage := `line1
line2
line3`
	w := &Widget{
		ID:      19,
		Message: passage,
	}
	event := NewJSONMessageEvent(EventDebug, w)
	if event.TypeOptional != EventDebug {
		t.Errorf("event type changed got %s want %s", event.TypeOptional, EventDebug)
	}
	if len(event.Lines) != 1 {
		t.Fatalf("JSON event split into %d lines: %v", len(event.Lines), event.Lines)
	}
	s := event.Lines[0]
	if strings.Contains(s, "\n") {
		t.Errorf("JSON not encode with escape LF: %s", s)
	}
	//goland:noinspection SpellCheckingInspection
	want := `{"id":19,"message":"line1\nline2\nline3"}`
	if want != s {
		t.Errorf("JSON encode result changed got %s want %s", s, want)
	}
}

func TestJSONMessageEventFallback(t *testing.T) {
	event := NewJSONMessageEvent(EventDebug, func() {})
	assert.Equal(t, EventError, event.TypeOptional)
	assert.Contains(t, event.Lines[0], "to JSON")
}

func TestMultiLineMessageEvent(t *testing.T) {
	assert.Equal(t, wf.MessageEvent{Lines: []string{"a", "", "b"}}, NewMultiLineMessageEvent("a\n\nb"))
	assert.Equal(t, []string{""}, NewMultiLineMessageEvent("").Lines)
	assert.Equal(t, wf.MessageEvent{TypeOptional: EventError, Lines: []string{"bad", "worse"}},
		NewErrorMessageEvent(errors.New("bad\nworse")))
}

func TestSendStopsWhenDone(t *testing.T) {
	down := make(chan wf.MessageEvent, 1)
	assert.True(t, send(context.Background(), down, NewMultiLineMessageEvent("x")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// the buffer is full, only ctx can release the sender
	assert.False(t, send(ctx, down, NewMultiLineMessageEvent("y")))
	assert.Equal(t, []string{"x"}, (<-down).Lines)
}

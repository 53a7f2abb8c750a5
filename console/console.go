// Package console provides helpers for user and app interacts with console, a.k.a. TTY or terminal.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"golang.org/x/term"
	"io"
	"log/slog"
	"os"
)

type Controller struct {
	handler LineHandler
	opts    Options
}

// NewController creates *Controller, use NewDefaultOptions to provide a workable opts or make it yourself.
func NewController(handler LineHandler, opts Options) *Controller {
	return &Controller{handler: handler, opts: opts}
}

type Options struct {
	EscapeLine string
	EchoInput  bool
	Prompt     string
	// Input and Output default to os.Stdin and os.Stdout, the only pair that may become a line editor.
	Input  io.Reader
	Output io.Writer
}

func NewDefaultOptions() Options {
	return Options{
		EscapeLine: "exit()",
		EchoInput:  false,
		Prompt:     "> ",
	}
}

type LineHandler interface {
	// HandleLine writes everything it shows to out.
	HandleLine(line string, out io.Writer)
}

type HandleLineFunc func(line string, out io.Writer)

func (f HandleLineFunc) HandleLine(line string, out io.Writer) {
	f(line, out)
}

type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func (r *scannerReader) ReadLine() (string, error) {
	_, _ = fmt.Fprint(r.out, r.prompt)
	if r.scanner.Scan() {
		return r.scanner.Text(), nil
	}
	if err := r.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// Run reads lines until EOF or the escape line.
func (c *Controller) Run() (err error) {
	if c.opts.Input == nil && c.opts.Output == nil && isTerminal() {
		var oldState *term.State
		oldState, err = term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, term.Restore(int(os.Stdin.Fd()), oldState))
		}()

		screen := struct {
			io.Reader
			io.Writer
		}{os.Stdin, os.Stdout}
		terminal := term.NewTerminal(screen, c.opts.Prompt)
		_, _ = fmt.Fprint(terminal, string(terminal.Escape.Magenta))
		_, _ = fmt.Fprintf(terminal, "hint: input %s or Ctrl-D to escape\n", c.opts.EscapeLine)
		_, _ = fmt.Fprint(terminal, string(terminal.Escape.Reset))
		return c.loop(terminal, terminal)
	}

	in, out := c.opts.Input, c.opts.Output
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	slog.Debug("not terminal, read lines without editing")
	_, _ = fmt.Fprintf(out, "hint: input %s to escape\n", c.opts.EscapeLine)
	return c.loop(&scannerReader{scanner: bufio.NewScanner(in), out: out, prompt: c.opts.Prompt}, out)
}

func (c *Controller) loop(reader lineReader, out io.Writer) error {
	for {
		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if line == c.opts.EscapeLine {
			return nil
		}
		if c.opts.EchoInput {
			slog.Info("read line", "line", line)
		}
		c.handler.HandleLine(line, out)
	}
}

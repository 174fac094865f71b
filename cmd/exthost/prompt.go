// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/holomush/exthost/internal/reload"
)

// terminalPrompter asks recovery questions on a terminal.
type terminalPrompter struct {
	out io.Writer

	once  sync.Once
	in    io.Reader
	lines chan string

	// mu keeps concurrent prompts from interleaving.
	mu sync.Mutex
}

// Compile-time interface check.
var _ reload.Prompter = (*terminalPrompter)(nil)

// newTerminalPrompter returns nil when in is not a terminal.
func newTerminalPrompter(in *os.File, out io.Writer) *terminalPrompter {
	fd := in.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return nil
	}
	return newLinePrompter(in, out)
}

func newLinePrompter(in io.Reader, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out, lines: make(chan string)}
}

// readLines feeds lines until in is exhausted. It outlives cancelled
// prompts.
func (p *terminalPrompter) readLines() {
	sc := bufio.NewScanner(p.in)
	for sc.Scan() {
		p.lines <- sc.Text()
	}
	close(p.lines)
}

// Ask implements reload.Prompter.
func (p *terminalPrompter) Ask(ctx context.Context, pr reload.Prompt) (reload.Choice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once.Do(func() { go p.readLines() })

	opts := make([]string, 0, len(pr.Options))
	for _, o := range pr.Options {
		label := string(o)
		if pr.Cancellable && o == pr.Default {
			label = strings.ToUpper(label)
		}
		opts = append(opts, label)
	}
	if _, err := fmt.Fprintf(p.out, "%s [%s] ", pr.Message, strings.Join(opts, "/")); err != nil {
		return reload.ChoiceDismissed, err
	}

	select {
	case <-ctx.Done():
		return reload.ChoiceDismissed, ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return reload.ChoiceDismissed, nil
		}
		return parseChoice(line, pr), nil
	}
}

// parseChoice maps an answer onto one of the offered options. An empty
// answer takes the default; anything unrecognized dismisses the prompt.
func parseChoice(line string, pr reload.Prompt) reload.Choice {
	var c reload.Choice
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "":
		c = pr.Default
	case "y", "yes", "confirm":
		c = reload.ChoiceConfirm
	case "n", "no", "cancel":
		c = reload.ChoiceCancel
	default:
		return reload.ChoiceDismissed
	}
	for _, o := range pr.Options {
		if o == c {
			return c
		}
	}
	return reload.ChoiceDismissed
}

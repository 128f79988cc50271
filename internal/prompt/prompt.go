// Package prompt abstracts operator interaction so that core phases never
// read the terminal directly. The wizard and the preflight version check
// take a Prompter; non-interactive runs inject NonInteractive.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Prompter asks the operator questions. Implementations must be safe to
// call sequentially from a single goroutine.
type Prompter interface {
	// Ask prompts for a free-form answer. An empty reply returns def.
	Ask(question, def string) (string, error)
	// Confirm asks a yes/no question and reports the answer.
	Confirm(question string) (bool, error)
}

// Stdio prompts on an input/output stream pair, normally stdin/stdout.
type Stdio struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewStdio returns a Prompter bound to the process terminal.
func NewStdio() *Stdio {
	return &Stdio{In: os.Stdin, Out: os.Stdout}
}

func (s *Stdio) readLine() (string, error) {
	if s.reader == nil {
		s.reader = bufio.NewReader(s.In)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask prompts for a free-form answer, showing the default in brackets.
func (s *Stdio) Ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(s.Out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(s.Out, "%s: ", question)
	}
	answer, err := s.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Confirm asks a yes/no question. Only "y"/"yes" (case-insensitive) counts
// as assent.
func (s *Stdio) Confirm(question string) (bool, error) {
	fmt.Fprintf(s.Out, "%s [y/N]: ", question)
	answer, err := s.readLine()
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes", nil
}

// NonInteractive answers every question with its configured defaults. Used
// for CI and unattended runs where no terminal is available; Confirm
// defaults to deny, which turns operator-confirmable warnings into hard
// failures.
type NonInteractive struct {
	ConfirmAnswer bool
}

// Ask returns the caller-supplied default unchanged.
func (n *NonInteractive) Ask(_ string, def string) (string, error) {
	return def, nil
}

// Confirm returns the preconfigured answer.
func (n *NonInteractive) Confirm(_ string) (bool, error) {
	return n.ConfirmAnswer, nil
}

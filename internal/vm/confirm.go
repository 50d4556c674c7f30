package vm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ConfirmMode decides how destructive prompts are answered.
type ConfirmMode int

const (
	// ConfirmPrompt asks the operator interactively.
	ConfirmPrompt ConfirmMode = iota
	// ConfirmAssumeYes answers every prompt with yes.
	ConfirmAssumeYes
	// ConfirmAssumeNo answers every prompt with no.
	ConfirmAssumeNo
)

// Ask resolves a yes/no question according to the mode. In prompt mode the
// question is written to out and a single line is read from in; only "y"
// and "yes" (case-insensitive) count as consent.
func (m ConfirmMode) Ask(question string, in io.Reader, out io.Writer) (bool, error) {
	switch m {
	case ConfirmAssumeYes:
		return true, nil
	case ConfirmAssumeNo:
		return false, nil
	}

	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false, nil
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

package monitor

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(question string, def bool) (bool, error)
}

// LinePrompter reads answers line by line, e.g. from a terminal.
type LinePrompter struct {
	r *bufio.Reader
	w io.Writer
}

func NewLinePrompter(r io.Reader, w io.Writer) *LinePrompter {
	return &LinePrompter{r: bufio.NewReader(r), w: w}
}

// Confirm asks until it gets y, n or an empty line (the default). Input
// that ends before an answer is a "no" together with the read error.
func (p *LinePrompter) Confirm(question string, def bool) (bool, error) {
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		fmt.Fprintf(p.w, "%s %s ", question, hint)
		line, err := p.r.ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if err != nil && answer == "" {
			fmt.Fprintln(p.w)
			return false, err
		}
		switch answer {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
}

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// prompter asks questions on out and reads answers from in.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// String asks for a value; an empty answer keeps def.
func (p *prompter) String(label, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(p.out, "%s: ", label)
	}
	input, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return def, nil
	}
	return input, nil
}

// Choice asks until the answer is one of options.
func (p *prompter) Choice(label, def string, options ...string) (string, error) {
	for {
		v, err := p.String(fmt.Sprintf("%s (%s)", label, strings.Join(options, "/")), def)
		if err != nil {
			return "", err
		}
		v = strings.ToLower(v)
		for _, o := range options {
			if v == o {
				return v, nil
			}
		}
		fmt.Fprintln(p.out, "  Invalid choice, please try again.")
	}
}

// Int asks until the answer parses as a non-negative integer.
func (p *prompter) Int(label string, def int64) (int64, error) {
	for {
		v, err := p.String(label, strconv.FormatInt(def, 10))
		if err != nil {
			return 0, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err == nil && n >= 0 {
			return n, nil
		}
		fmt.Fprintln(p.out, "  Error: enter a whole number")
	}
}

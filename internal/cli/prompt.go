package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// lineReader yields one trimmed line per call
type lineReader interface {
	ReadLine() (string, error)
}

type bufferedLines struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) lineReader {
	return &bufferedLines{r: bufio.NewReader(r)}
}

func (b *bufferedLines) ReadLine() (string, error) {
	line, err := b.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// confirm asks a yes/no question. Anything but y or yes declines.
func confirm(in lineReader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := in.ReadLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// splitArgs splits a shell line on whitespace. Double quotes group words so
// names with spaces can be addressed.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quoted  bool
		inWord  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			inWord = true
		case !quoted && (r == ' ' || r == '\t'):
			if inWord {
				args = append(args, current.String())
				current.Reset()
				inWord = false
			}
		default:
			current.WriteRune(r)
			inWord = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inWord {
		args = append(args, current.String())
	}
	return args, nil
}

// Package console is the terminal front end of the engine: passphrase
// prompts, interactive decisions and progress bars.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// IsInteractive reports whether both stdin and stderr are terminals.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// ReadPassphrase prompts on out and reads a passphrase from in without
// echo when in is a terminal. Otherwise it reads one line.
func ReadPassphrase(in *os.File, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(b), nil
	}
	return readLine(bufio.NewReader(in))
}

// ReadNewPassphrase asks twice and fails when the answers differ.
func ReadNewPassphrase(in *os.File, out io.Writer) (string, error) {
	first, err := ReadPassphrase(in, out, "New passphrase: ")
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", errors.New("passphrase cannot be empty")
	}
	second, err := ReadPassphrase(in, out, "Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	return first, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

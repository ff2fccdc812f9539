package fs

import (
	"bufio"
	"fmt"
	"os"
)

// ParseFilterFile reads name filter patterns, one per line. Blank lines and
// comments are returned as is; the enumerator drops them. A missing file
// yields no patterns.
func ParseFilterFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening filter file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading filter file: %w", err)
	}
	return patterns, nil
}

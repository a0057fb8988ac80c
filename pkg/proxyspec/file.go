package proxyspec

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFile reads a proxy list file, one spec per line. Blank lines and
// lines whose first non-space character is '#' are skipped. Descriptors
// are assigned ids in file order. The first line that fails to parse ends
// the load: the returned error names its line number and wraps the
// *InvalidProxySpec, and no descriptors are returned. Invalid lines are not
// skipped.
func LoadFile(path string) ([]*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close()

	var descriptors []*Descriptor
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		d, err := Parse(line, len(descriptors))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		descriptors = append(descriptors, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy file: %w", err)
	}

	return descriptors, nil
}

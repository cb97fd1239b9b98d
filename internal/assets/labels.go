package assets

import (
	"io"
	"os"
	"strings"
)

const UnknownLabel = "unknown"

// ParseLabels reads one label per line. Trailing carriage returns are
// stripped and empty lines are dropped.
func ParseLabels(r io.Reader) ([]string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var labels []string
	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		labels = append(labels, line)
	}
	return labels, nil
}

func LoadLabels(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParseLabels(f)
}

// Label returns labels[i], or UnknownLabel when i is out of range.
func Label(labels []string, i int) string {
	if i < 0 || i >= len(labels) {
		return UnknownLabel
	}
	return labels[i]
}

package model

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Labels is the immutable class-index to name table.
type Labels struct {
	names []string
}

// NewLabels copies names into a table. The caller's slice is not retained.
func NewLabels(names []string) Labels {
	return Labels{names: append([]string(nil), names...)}
}

// Len reports the number of classes.
func (l Labels) Len() int {
	return len(l.names)
}

// Label returns the name of class i. An out-of-range index cannot come from a
// correctly sized probability vector and panics.
func (l Labels) Label(i int) string {
	if i < 0 || i >= len(l.names) {
		panic(fmt.Sprintf("model: class index %d outside label table of %d", i, len(l.names)))
	}
	return l.names[i]
}

// labelFile mirrors the metadata document exported next to some models.
type labelFile struct {
	Classes []string `json:"classes"`
}

// LoadLabels reads a class table. Text files hold one label per line; JSON
// files hold either an array of names or an object with a "classes" array.
// The table must have exactly want entries.
func LoadLabels(path string, want int) (Labels, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Labels{}, fmt.Errorf("failed to read labels: %w", err)
	}

	var names []string
	if strings.EqualFold(filepath.Ext(path), ".json") {
		names, err = parseJSONLabels(data)
	} else {
		names, err = parseTextLabels(data)
	}
	if err != nil {
		return Labels{}, fmt.Errorf("failed to parse labels %s: %w", path, err)
	}
	if len(names) != want {
		return Labels{}, fmt.Errorf("label table %s has %d entries, want %d", path, len(names), want)
	}
	return Labels{names: names}, nil
}

func parseJSONLabels(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var names []string
		if err := json.Unmarshal(trimmed, &names); err != nil {
			return nil, err
		}
		return names, nil
	}
	var meta labelFile
	if err := json.Unmarshal(trimmed, &meta); err != nil {
		return nil, err
	}
	return meta.Classes, nil
}

func parseTextLabels(data []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		names = append(names, line)
	}
	return names, scanner.Err()
}

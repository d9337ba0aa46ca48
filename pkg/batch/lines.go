package batch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jllopis/tertulia/pkg/errors"
)

// LoadLines reads raw batch input lines from a JSON or JSONL file. A JSON
// file must hold an array of objects; a JSONL file holds one object per line.
// maxLines > 0 truncates the result.
func LoadLines(path string, maxLines int) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("cannot read input file %s", path), err)
	}

	var lines []map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		lines, err = parseJSONL(data)
	case ".json":
		err = json.Unmarshal(data, &lines)
	default:
		// Sniff: arrays are JSON, anything else line-delimited.
		trimmed := strings.TrimSpace(string(data))
		if strings.HasPrefix(trimmed, "[") {
			err = json.Unmarshal(data, &lines)
		} else {
			lines, err = parseJSONL(data)
		}
	}
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("cannot parse input file %s", path), err)
	}

	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines, nil
}

func parseJSONL(data []byte) ([]map[string]any, error) {
	var lines []map[string]any
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		lines = append(lines, obj)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

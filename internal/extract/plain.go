package extract

import (
	"bufio"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// plainText returns content as a string with invalid UTF-8 replaced.
func plainText(content []byte) string {
	if !utf8.Valid(content) {
		return strings.ToValidUTF8(string(content), "\ufffd")
	}
	return string(content)
}

func plainRecords(content []byte) ([]string, error) {
	return splitLines(plainText(content)), nil
}

// splitLines returns the trimmed, non-empty lines of text.
func splitLines(text string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// jsonlRecords takes the "text" field of each JSON object line, falling back to
// the raw line when it is not an object with a string text field.
func jsonlRecords(content []byte) ([]string, error) {
	lines := splitLines(plainText(content))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		var obj struct {
			Text *string `json:"text"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err == nil && obj.Text != nil {
			if t := strings.TrimSpace(*obj.Text); t != "" {
				out = append(out, t)
			}
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

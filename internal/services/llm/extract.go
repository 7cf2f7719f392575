package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	thinkTagPattern  = regexp.MustCompile(`(?s)<think(?:ing)?>(.*?)</think(?:ing)?>`)
	jsonFencePattern = regexp.MustCompile("(?s)```json\\s*(.*?)```")
)

// SplitCoT separates a chain of thought from an answer. Text wrapped in
// <think> or <thinking> tags is the chain of thought; everything outside
// the tags is the answer. Without tags the whole text is the answer.
func SplitCoT(text string) (answer, cot string) {
	match := thinkTagPattern.FindStringSubmatchIndex(text)
	if match == nil {
		return strings.TrimSpace(text), ""
	}
	cot = strings.TrimSpace(text[match[2]:match[3]])
	answer = strings.TrimSpace(text[:match[0]] + text[match[1]:])
	return answer, cot
}

// ExtractJSON pulls a JSON document out of model output: the raw text if
// it parses, else the contents of a ```json fence, else an error.
func ExtractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return trimmed, nil
	}
	if match := jsonFencePattern.FindStringSubmatch(text); match != nil {
		fenced := strings.TrimSpace(match[1])
		if json.Valid([]byte(fenced)) {
			return fenced, nil
		}
	}
	return "", fmt.Errorf("no JSON document found in model output")
}

package split

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// TOCEntry is one heading of a markdown document
type TOCEntry struct {
	Level int    `json:"level"`
	Title string `json:"title"`
}

// ExtractTOC walks the goldmark AST and collects every heading in
// document order.
func ExtractTOC(content string) []TOCEntry {
	source := []byte(content)
	parser := goldmark.DefaultParser()
	root := parser.Parse(text.NewReader(source))

	var entries []TOCEntry
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok {
			var title strings.Builder
			for c := heading.FirstChild(); c != nil; c = c.NextSibling() {
				if t, ok := c.(*ast.Text); ok {
					title.Write(t.Segment.Value(source))
				}
			}
			entries = append(entries, TOCEntry{
				Level: heading.Level,
				Title: strings.TrimSpace(title.String()),
			})
		}
		return ast.WalkContinue, nil
	})
	return entries
}

// TOCJSON serializes a table of contents for catalog rows and prompts
func TOCJSON(entries []TOCEntry) (string, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("failed to encode toc: %w", err)
	}
	return string(data), nil
}

// splitMarkdown cuts the document at headings, keeping each section
// under the chunk size and labeling it with its heading path.
func splitMarkdown(content string, chunkSize int) []chunk {
	lines := strings.Split(content, "\n")

	type section struct {
		heading string
		body    []string
	}
	var sections []section
	current := section{}
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			trimmed := strings.TrimLeft(line, "#")
			if strings.HasPrefix(trimmed, " ") || trimmed == "" {
				if len(current.body) > 0 || current.heading != "" {
					sections = append(sections, current)
				}
				current = section{heading: strings.TrimSpace(trimmed)}
				current.body = append(current.body, line)
				continue
			}
		}
		current.body = append(current.body, line)
	}
	if len(current.body) > 0 || current.heading != "" {
		sections = append(sections, current)
	}

	var chunks []chunk
	for _, sec := range sections {
		body := strings.Join(sec.body, "\n")
		if len([]rune(body)) <= chunkSize {
			chunks = append(chunks, chunk{content: body, summary: sec.heading})
			continue
		}
		for _, sub := range splitRecursive(body, chunkSize) {
			sub.summary = sec.heading
			chunks = append(chunks, sub)
		}
	}
	return chunks
}

// Package split chunks source documents into training-sized pieces.
package split

import (
	"fmt"
	"strings"

	"github.com/ternarybob/forge/internal/models"
)

const defaultChunkSize = 1500

// Item is one chunk of a source document. ChunkIndex starts at 1 and
// follows document order.
type Item struct {
	Size       int
	Content    string
	Summary    string
	Name       string
	ChunkIndex int
}

// Split chunks content with the requested strategy. chunkSize <= 0
// selects the default.
func Split(splitType models.SplitType, name, content string, chunkSize int) ([]Item, error) {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	var chunks []chunk
	var err error
	switch splitType {
	case models.SplitTypeMarkdown:
		chunks = splitMarkdown(content, chunkSize)
	case models.SplitTypeRecursive:
		chunks = splitRecursive(content, chunkSize)
	case models.SplitTypeText:
		chunks = splitText(content, chunkSize)
	case models.SplitTypeToken:
		chunks, err = splitTokens(content, chunkSize)
	case models.SplitTypeCode:
		chunks = splitCode(content, chunkSize)
	default:
		return nil, fmt.Errorf("unknown split type: %s", splitType)
	}
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(chunks))
	for _, c := range chunks {
		text := strings.TrimSpace(c.content)
		if text == "" {
			continue
		}
		summary := c.summary
		if summary == "" {
			summary = firstLine(text)
		}
		items = append(items, Item{
			Size:       len(text),
			Content:    text,
			Summary:    summary,
			Name:       fmt.Sprintf("%s-%d", name, len(items)+1),
			ChunkIndex: len(items) + 1,
		})
	}
	return items, nil
}

type chunk struct {
	content string
	summary string
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// splitRecursive splits on progressively finer separators, packing
// pieces back together up to the chunk size.
func splitRecursive(content string, chunkSize int) []chunk {
	pieces := recurse(content, chunkSize, []string{"\n\n", "\n", " "})
	return pack(pieces, chunkSize)
}

func recurse(content string, chunkSize int, separators []string) []string {
	if len([]rune(content)) <= chunkSize || len(separators) == 0 {
		return []string{content}
	}
	parts := strings.Split(content, separators[0])
	var out []string
	for i, part := range parts {
		if i < len(parts)-1 {
			part += separators[0]
		}
		if len([]rune(part)) > chunkSize {
			out = append(out, recurse(part, chunkSize, separators[1:])...)
		} else {
			out = append(out, part)
		}
	}
	return out
}

func pack(pieces []string, chunkSize int) []chunk {
	var chunks []chunk
	var current strings.Builder
	for _, piece := range pieces {
		if current.Len() > 0 && len([]rune(current.String()))+len([]rune(piece)) > chunkSize {
			chunks = append(chunks, chunk{content: current.String()})
			current.Reset()
		}
		current.WriteString(piece)
	}
	if current.Len() > 0 {
		chunks = append(chunks, chunk{content: current.String()})
	}
	return chunks
}

// splitText cuts fixed-size rune windows
func splitText(content string, chunkSize int) []chunk {
	runes := []rune(content)
	var chunks []chunk
	for start := 0; start < len(runes); start += chunkSize {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, chunk{content: string(runes[start:end])})
	}
	return chunks
}

// splitCode groups top-level blocks separated by blank lines
func splitCode(content string, chunkSize int) []chunk {
	blocks := strings.Split(content, "\n\n")
	pieces := make([]string, len(blocks))
	for i, b := range blocks {
		if i < len(blocks)-1 {
			pieces[i] = b + "\n\n"
		} else {
			pieces[i] = b
		}
	}
	return pack(pieces, chunkSize)
}

package split

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const tokenEncoding = "cl100k_base"

// splitTokens cuts windows of chunkSize tokens using the cl100k_base
// vocabulary.
func splitTokens(content string, chunkSize int) ([]chunk, error) {
	encoding, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoding: %w", err)
	}

	tokens := encoding.Encode(content, nil, nil)
	var chunks []chunk
	for start := 0; start < len(tokens); start += chunkSize {
		end := start + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, chunk{content: encoding.Decode(tokens[start:end])})
	}
	return chunks, nil
}

package fence

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoBlock        = errors.New("no fenced block found")
	ErrMultipleBlocks = errors.New("more than one fenced block found")
	ErrUnterminated   = errors.New("unterminated fenced block")
)

type Block struct {
	Lang string
	Body string
}

// Blocks returns every ``` fenced block in text, in order.
func Blocks(text string) ([]Block, error) {
	var (
		blocks []Block
		open   bool
		cur    Block
		body   []string
	)
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if !open {
			if strings.HasPrefix(trimmed, "```") {
				open = true
				cur = Block{Lang: strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "```")))}
				body = body[:0]
			}
			continue
		}
		if trimmed == "```" {
			cur.Body = strings.TrimSpace(strings.Join(body, "\n"))
			blocks = append(blocks, cur)
			open = false
			continue
		}
		body = append(body, line)
	}
	if open {
		return blocks, ErrUnterminated
	}
	return blocks, nil
}

// Single extracts the one block whose language is in langs (an empty tag
// always matches). Text without any fence is returned trimmed as is.
func Single(text string, langs ...string) (string, error) {
	blocks, err := Blocks(text)
	if err != nil {
		return "", err
	}
	if len(blocks) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return "", ErrNoBlock
		}
		return trimmed, nil
	}
	var matched []Block
	for _, b := range blocks {
		if b.Lang == "" || containsFold(langs, b.Lang) {
			matched = append(matched, b)
		}
	}
	switch len(matched) {
	case 0:
		return "", fmt.Errorf("%w: want one of %v", ErrNoBlock, langs)
	case 1:
		return matched[0].Body, nil
	default:
		return "", fmt.Errorf("%w: %d blocks", ErrMultipleBlocks, len(matched))
	}
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

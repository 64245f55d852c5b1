package chunker

import (
	"fmt"
	"strings"

	"notes-embedding-worker/internal/domain"
	"notes-embedding-worker/internal/domain/model"
	"notes-embedding-worker/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.Chunker = (*Markdown)(nil)

const headingSeparator = " > "

type Options struct {
	MaxTokens     int
	OverlapTokens int
}

// Markdown packs paragraphs into token-bounded chunks without crossing
// heading boundaries. Each chunk carries the heading trail it sits under and
// repeats the last OverlapTokens tokens of the previous chunk in the same section.
type Markdown struct {
	tok  Tokenizer
	opts Options
}

func New(tok Tokenizer, opts Options) (*Markdown, error) {
	if opts.MaxTokens <= 0 {
		return nil, fmt.Errorf("%w: max tokens must be > 0", domain.ErrInvalidConfig)
	}
	if opts.OverlapTokens < 0 || opts.OverlapTokens >= opts.MaxTokens {
		return nil, fmt.Errorf("%w: overlap must be within 0..%d", domain.ErrInvalidConfig, opts.MaxTokens-1)
	}
	return &Markdown{tok: tok, opts: opts}, nil
}

type section struct {
	headings []string
	body     string
}

func (m *Markdown) Chunk(title, body string) ([]model.Chunk, error) {
	var out []model.Chunk
	for _, s := range splitSections(body) {
		path := headingPath(title, s.headings)
		out = m.chunkSection(out, path, s.body)
	}
	return out, nil
}

func (m *Markdown) chunkSection(out []model.Chunk, path, body string) []model.Chunk {
	var (
		cur     []int
		carried int
	)
	flush := func() {
		if len(cur) <= carried {
			return
		}
		text := strings.TrimSpace(m.tok.Decode(cur))
		if text != "" {
			out = append(out, model.Chunk{
				Index:       len(out),
				HeadingPath: path,
				Text:        text,
				TokenCount:  len(cur),
			})
		}
		keep := m.opts.OverlapTokens
		if keep > len(cur) {
			keep = len(cur)
		}
		cur = append([]int(nil), cur[len(cur)-keep:]...)
		carried = len(cur)
	}

	for _, para := range splitParagraphs(body) {
		toks := m.tok.Encode(para + "\n\n")
		if len(cur)+len(toks) <= m.opts.MaxTokens {
			cur = append(cur, toks...)
			continue
		}
		flush()
		for len(toks) > 0 {
			room := m.opts.MaxTokens - len(cur)
			take := min(room, len(toks))
			cur = append(cur, toks[:take]...)
			toks = toks[take:]
			if len(toks) > 0 {
				flush()
			}
		}
	}
	flush()
	return out
}

func headingPath(title string, headings []string) string {
	parts := make([]string, 0, len(headings)+1)
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	for _, h := range headings {
		if h != "" {
			parts = append(parts, h)
		}
	}
	return strings.Join(parts, headingSeparator)
}

// splitSections cuts body at ATX headings. Lines inside fenced code blocks
// are never headings.
func splitSections(body string) []section {
	var (
		out     []section
		stack   []string
		buf     strings.Builder
		inFence bool
	)
	emit := func() {
		if strings.TrimSpace(buf.String()) != "" {
			out = append(out, section{headings: append([]string(nil), stack...), body: buf.String()})
		}
		buf.Reset()
	}

	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if !inFence {
			if level, text, ok := parseHeading(trimmed); ok {
				emit()
				if level-1 < len(stack) {
					stack = stack[:level-1]
				}
				for len(stack) < level-1 {
					stack = append(stack, "")
				}
				stack = append(stack, text)
				continue
			}
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	emit()
	return out
}

func parseHeading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, "", false
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	return level, strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#")), true
}

func splitParagraphs(body string) []string {
	var (
		out []string
		cur []string
	)
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				out = append(out, strings.Join(cur, "\n"))
				cur = cur[:0]
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, "\n"))
	}
	return out
}

package chunker

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer converts between text and token ids.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktoken loads a BPE encoding such as cl100k_base. The first call per
// encoding may download the rank file unless TIKTOKEN_CACHE_DIR holds it.
func NewTiktoken(encoding string) (Tokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &tiktokenTokenizer{enc: enc}, nil
}

func (t *tiktokenTokenizer) Encode(text string) []int { return t.enc.Encode(text, nil, nil) }
func (t *tiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// WordTokenizer treats each whitespace-separated word as one token. It needs
// no rank file, which makes it the offline fallback for demos and tests.
type WordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func NewWordTokenizer() *WordTokenizer {
	return &WordTokenizer{ids: map[string]int{}}
}

func (w *WordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		out[i] = id
	}
	return out
}

func (w *WordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, 0, len(tokens))
	for _, id := range tokens {
		if id >= 0 && id < len(w.words) {
			parts = append(parts, w.words[id])
		}
	}
	return strings.Join(parts, " ")
}

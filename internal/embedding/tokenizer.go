package embedding

import (
	"hash/fnv"
	"strings"
)

// Special ids and vocabulary size shared by the BERT-family ONNX exports we run.
const (
	clsToken         = 101
	sepToken         = 102
	vocabSize        = 30522
	firstWordToken   = 1000
	defaultMaxTokens = 256
)

// Tokens is one padded input row: input_ids, attention_mask and token_type_ids.
type Tokens struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	// Words is the number of words that fit between [CLS] and [SEP].
	Words     int
	Truncated bool
}

// HashTokenizer maps lower-cased words to stable ids in a BERT-sized vocabulary and
// frames them as [CLS] words [SEP], padded to MaxTokens. Prefix is prepended to every
// text; task-tuned models such as nomic-embed-text expect one.
type HashTokenizer struct {
	Prefix    string
	MaxTokens int
}

// NewHashTokenizer returns a tokenizer. maxTokens below 3 cannot hold a word and
// falls back to 256.
func NewHashTokenizer(prefix string, maxTokens int) *HashTokenizer {
	if maxTokens < 3 {
		maxTokens = defaultMaxTokens
	}
	return &HashTokenizer{Prefix: prefix, MaxTokens: maxTokens}
}

// Tokenize encodes text. Words past MaxTokens-2 are dropped and Truncated is set.
func (t *HashTokenizer) Tokenize(text string) Tokens {
	n := t.MaxTokens
	out := Tokens{
		InputIDs:      make([]int64, n),
		AttentionMask: make([]int64, n),
		TokenTypeIDs:  make([]int64, n),
	}
	words := splitWords(t.Prefix + text)
	if room := n - 2; len(words) > room {
		words = words[:room]
		out.Truncated = true
	}

	out.InputIDs[0] = clsToken
	out.AttentionMask[0] = 1
	for i, w := range words {
		out.InputIDs[i+1] = wordToken(w)
		out.AttentionMask[i+1] = 1
	}
	end := len(words) + 1
	out.InputIDs[end] = sepToken
	out.AttentionMask[end] = 1
	out.Words = len(words)
	return out
}

func splitWords(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// wordToken keeps word ids clear of the reserved special-token range.
func wordToken(w string) int64 {
	return firstWordToken + int64(wordHash(w)%(vocabSize-firstWordToken))
}

func wordHash(w string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(w))
	return h.Sum64()
}

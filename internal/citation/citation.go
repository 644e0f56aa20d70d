// Package citation maps numeric source markers in generated answers back to
// the retrieved chunks they refer to.
package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/internal/vector"
)

const (
	unknownTitle = "Unknown Title"
	notAvailable = "N/A"
)

// markerPattern matches [n] as well as the full-width 【n】 some models emit.
// Digits may come from any script, so 【１】 cites source 1.
var markerPattern = regexp.MustCompile(`(?:\[|【)(\p{Nd}+)(?:\]|】)`)

type Citation struct {
	Marker    string `json:"source_id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	ChatID    string `json:"chat_id"`
	TurnID    string `json:"turn_id"`
	Timestamp string `json:"timestamp"`
	ChunkID   string `json:"chunk_id,omitempty"`
}

// Markers returns the distinct marker numbers in text in ascending order.
// Numbers too large for an int are ignored.
func Markers(text string) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(asciiDigits(m[1]))
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// asciiDigits rewrites decimal digits of any script as 0-9.
func asciiDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteByte(byte('0' + digitValue(r)))
	}
	return b.String()
}

// digitValue relies on Unicode encoding every decimal digit set as a
// contiguous run from zero to nine.
func digitValue(r rune) int {
	if r >= '0' && r <= '9' {
		return int(r - '0')
	}
	for _, rg := range unicode.Nd.R16 {
		if lo := rune(rg.Lo); r >= lo && r <= rune(rg.Hi) {
			return int(r-lo) % 10
		}
	}
	for _, rg := range unicode.Nd.R32 {
		if lo := rune(rg.Lo); r >= lo && r <= rune(rg.Hi) {
			return int(r-lo) % 10
		}
	}
	return 0
}

// Extract resolves each marker n against candidates[n-1]. Markers with no
// matching candidate are dropped.
func Extract(answer string, candidates []vector.Match) []Citation {
	citations := make([]Citation, 0)
	for _, n := range Markers(answer) {
		idx := n - 1
		if idx < 0 || idx >= len(candidates) {
			continue
		}
		citations = append(citations, resolve(n, candidates[idx]))
	}
	return citations
}

func resolve(n int, c vector.Match) Citation {
	return Citation{
		Marker:    fmt.Sprintf("[%d]", n),
		Number:    n,
		Title:     orDefault(c.Metadata, chat.KeyTitle, unknownTitle),
		ChatID:    orDefault(c.Metadata, chat.KeyChatID, notAvailable),
		TurnID:    orDefault(c.Metadata, chat.KeyTurnID, notAvailable),
		Timestamp: orDefault(c.Metadata, chat.KeyTurnTimestamp, notAvailable),
		ChunkID:   c.ID,
	}
}

// orDefault falls back only when the key is absent; an empty stored value is
// returned as is.
func orDefault(md map[string]any, key, fallback string) string {
	if _, ok := md[key]; !ok {
		return fallback
	}
	return vector.MetaString(md, key)
}

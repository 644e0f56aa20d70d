// Package chunking splits content units into bounded, overlapping segments
// with stable identifiers.
package chunking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/chatrag/backend/internal/chat"
)

const (
	DefaultChunkSize    = 150
	DefaultChunkOverlap = 30
)

// Separators are tried coarsest first: paragraph, line, word, character.
var Separators = []string{"\n\n", "\n", " ", ""}

type Chunk struct {
	Text       string
	ChunkIndex int
	ChunkID    string
	Metadata   chat.Metadata
}

// Fields returns the payload stored next to the chunk's vector.
func (c Chunk) Fields() map[string]any {
	fields := c.Metadata.Fields()
	fields[chat.KeyChunkIndex] = c.ChunkIndex
	fields[chat.KeyChunkID] = c.ChunkID
	return fields
}

type Chunker struct {
	size     int
	overlap  int
	splitter textsplitter.TextSplitter
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, errors.New("chunking: size must be greater than zero")
	}
	if overlap <= 0 {
		return nil, errors.New("chunking: overlap must be greater than zero")
	}
	if overlap >= size {
		return nil, fmt.Errorf("chunking: overlap %d must be smaller than size %d", overlap, size)
	}
	return &Chunker{
		size:    size,
		overlap: overlap,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(Separators),
		),
	}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// ChunkID is the idempotent upsert key of a chunk.
func ChunkID(chatID, turnID string, index int) string {
	return fmt.Sprintf("%s::%s::%d", chatID, turnID, index)
}

// Chunk splits one unit. Blank text yields no chunks; indices are zero-based
// and contiguous over the segments that survive trimming.
func (c *Chunker) Chunk(unit chat.ContentUnit) ([]Chunk, error) {
	if strings.TrimSpace(unit.Text) == "" {
		return nil, nil
	}
	segments, err := c.splitter.SplitText(unit.Text)
	if err != nil {
		return nil, fmt.Errorf("chunking: split chat %s turn %s: %w", unit.Metadata.ChatID, unit.Metadata.TurnID, err)
	}

	chunks := make([]Chunk, 0, len(segments))
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, Chunk{
			Text:       segment,
			ChunkIndex: idx,
			ChunkID:    ChunkID(unit.Metadata.ChatID, unit.Metadata.TurnID, idx),
			Metadata:   unit.Metadata,
		})
	}
	return chunks, nil
}

// ChunkAll chunks units in order and concatenates the results.
func (c *Chunker) ChunkAll(units []chat.ContentUnit) ([]Chunk, error) {
	var all []Chunk
	for _, unit := range units {
		chunks, err := c.Chunk(unit)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}

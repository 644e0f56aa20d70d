package query

import (
	"fmt"
	"strings"

	"github.com/chatrag/backend/internal/vector"
)

// NoAnswer is the sentence the model is told to use when the sources do not
// cover the question.
const NoAnswer = "I don't have enough information to answer that."

const promptTemplate = `You are a helpful AI assistant.
Answer the user's question based ONLY on the following context sources.
Each source has an ID like [1], [2].

When you use information from a source, you MUST cite it using its ID at the end of the sentence (e.g. "Windows settings can be reset [1].").

If the answer is not in the context, say "%s"

Context:
%s

Question:
%s
`

// FormatContext numbers candidates from 1 in retrieval order, which is the
// numbering citation markers refer back to.
func FormatContext(candidates []vector.Match) string {
	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "Source [%d]:\n%s\n\n", i+1, c.Text)
	}
	return b.String()
}

func BuildPrompt(question string, candidates []vector.Match) string {
	return fmt.Sprintf(promptTemplate, NoAnswer, FormatContext(candidates), question)
}

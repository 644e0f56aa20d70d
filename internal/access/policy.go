// Package access decides whether an ingested document is work or personal
// content, based on an external classifier's category probabilities.
package access

import (
	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/chat"
	"github.com/chatrag/backend/pkg/logger"
)

const DefaultThreshold = 0.90

type Policy struct {
	Threshold float64
}

func NewPolicy(threshold float64) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Policy{Threshold: threshold}
}

// Decide labels content "work" with confidence p when the second category's
// probability p reaches the threshold, otherwise "personal" with 1-p.
func (p Policy) Decide(workProbability float64) chat.Accessibility {
	if workProbability >= p.Threshold {
		return chat.Accessibility{Label: chat.LabelWork, Confidence: workProbability}
	}
	return chat.Accessibility{Label: chat.LabelPersonal, Confidence: 1 - workProbability}
}

func (p Policy) DecideFor(c *Categorization) chat.Accessibility {
	decision := p.Decide(c.CategoryTwo.Probability)
	logger.Info("Accessibility decided",
		zap.String("category_one", c.CategoryOne.Name),
		zap.Float64("category_one_probability", c.CategoryOne.Probability),
		zap.String("category_two", c.CategoryTwo.Name),
		zap.Float64("category_two_probability", c.CategoryTwo.Probability),
		zap.String("accessibility", decision.Label),
		zap.Float64("confidence", decision.Confidence),
	)
	return decision
}

package daily

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/papers"
)

// enrich attaches stored evaluation state to cards. With register set, papers
// seen for the first time are recorded so they can be evaluated later.
func (s *Service) enrich(ctx context.Context, cards []papers.PaperCard, register bool) []papers.PaperCard {
	out := make([]papers.PaperCard, len(cards))
	copy(out, cards)
	for i := range out {
		c := &out[i]
		c.HasEval = false
		c.IsEvaluated = false
		if c.ArxivID == "" {
			continue
		}
		paper, ok, err := s.store.GetPaper(ctx, c.ArxivID)
		if err != nil {
			s.logger.Warn("paper lookup failed", zap.String("arxiv_id", c.ArxivID), zap.Error(err))
			continue
		}
		if !ok {
			if register {
				s.register(ctx, *c)
			}
			continue
		}
		c.HasEval = paper.IsEvaluated
		c.IsEvaluated = paper.IsEvaluated
		c.Status = string(paper.Status)
		if paper.IsEvaluated {
			c.EvaluationScore = paper.EvaluationScore
			c.OverallScore = paper.OverallScore
			c.EvaluationDate = paper.EvaluationDate
			c.EvaluationTags = paper.EvaluationTags
		}
		if c.Title == "" {
			c.Title = paper.Title
		}
		if c.Authors == "" {
			c.Authors = paper.Authors
		}
		if c.Abstract == "" {
			c.Abstract = paper.Abstract
		}
	}
	return out
}

func (s *Service) register(ctx context.Context, c papers.PaperCard) {
	err := s.store.UpsertPaper(ctx, papers.PaperInput{
		ArxivID: c.ArxivID,
		Title:   c.Title,
		Authors: fmt.Sprintf("%d authors", c.AuthorCount),
	})
	if err != nil {
		s.logger.Warn("register paper failed", zap.String("arxiv_id", c.ArxivID), zap.Error(err))
	}
}

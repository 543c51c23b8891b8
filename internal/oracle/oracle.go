// Package oracle defines the capacity predictor contract and the bagged
// ridge-regression ensemble used when no external predictor is wired in.
package oracle

import (
	"context"

	"github.com/nvandessel/carbon-oracle/internal/models"
)

// Oracle predicts the final CO2 capacity of a batch from its features.
// Implementations may block; callers bound them with ctx.
type Oracle interface {
	Predict(ctx context.Context, feats models.ExtractedFeatures) (models.PredictionResult, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, feats models.ExtractedFeatures) (models.PredictionResult, error)

// Predict calls f.
func (f Func) Predict(ctx context.Context, feats models.ExtractedFeatures) (models.PredictionResult, error) {
	return f(ctx, feats)
}

// Fixed returns an oracle that always answers with res.
func Fixed(res models.PredictionResult) Oracle {
	return Func(func(ctx context.Context, _ models.ExtractedFeatures) (models.PredictionResult, error) {
		if err := ctx.Err(); err != nil {
			return models.PredictionResult{}, err
		}
		return res, nil
	})
}

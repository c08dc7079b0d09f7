package ranking

import (
	"math"

	"github.com/sells-group/jobs-etl/internal/model"
)

// Aggregate combines sub-scores into a score in [0,100] and an explain map
// holding the raw sub-score of every configured feature. Missing sub-scores
// count as 0 and missing weights ignore the feature. A total that is not a
// number scores 0.
func Aggregate(sub, weights map[model.Feature]float64, features []model.Feature) (float64, map[model.Feature]float64) {
	explain := make(map[model.Feature]float64, len(features))
	var total float64
	for _, f := range features {
		s := sub[f]
		explain[f] = s
		total += weights[f] * s
	}
	if math.IsNaN(total) {
		return 0, explain
	}
	score := math.Round(total*100*100) / 100
	return math.Max(0, math.Min(100, score)), explain
}

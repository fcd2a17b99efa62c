package strategy

import (
	"github.com/absmach/flock/model"
)

// weightedParameters averages client parameters weighted by their
// example counts. The reduction is a commutative sum, so the result
// does not depend on the order of results. Returns nil when results is
// empty or shapes diverge.
func weightedParameters(results []FitResult) model.Parameters {
	if len(results) == 0 {
		return nil
	}

	var total float64
	sum := model.ZerosLike(results[0].Res.Parameters)
	for _, r := range results {
		w := float64(r.Res.NumExamples)
		total += w
		scaled := model.Scale(r.Res.Parameters, w)
		next, err := model.Add(sum, scaled)
		if err != nil {
			return nil
		}
		sum = next
	}
	if total == 0 {
		return nil
	}

	return model.Scale(sum, 1/total)
}

// weightedLoss averages evaluation losses weighted by example counts.
func weightedLoss(results []EvaluateResult) (float64, bool) {
	var total, sum float64
	for _, r := range results {
		w := float64(r.Res.NumExamples)
		total += w
		sum += w * r.Res.Loss
	}
	if total == 0 {
		return 0, false
	}

	return sum / total, true
}

// weightedMetrics averages every metric key reported by at least one
// client, weighted by example counts of the clients reporting it.
func weightedMetrics(results []EvaluateResult) map[string]float64 {
	sums := make(map[string]float64)
	weights := make(map[string]float64)
	for _, r := range results {
		w := float64(r.Res.NumExamples)
		for k, v := range r.Res.Metrics {
			sums[k] += w * v
			weights[k] += w
		}
	}

	metrics := make(map[string]float64, len(sums))
	for k, s := range sums {
		if weights[k] > 0 {
			metrics[k] = s / weights[k]
		}
	}

	return metrics
}

// completionRate is the fraction of asked clients that responded.
func completionRate(numResults, numFailures int) float64 {
	asked := numResults + numFailures
	if asked == 0 {
		return 0
	}

	return float64(numResults) / float64(asked)
}

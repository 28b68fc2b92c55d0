package grading

import "math"

// Evaluate curves a set of normalized scores (0..10 scale) into one final
// score. The function is total: any input yields a result in [0, 10], rounded
// to two decimals for display stability. An empty score set evaluates to 0,
// and an empty rule set falls back to the arithmetic mean.
func Evaluate(scores []float64, rules []Rule) float64 {
	if len(scores) == 0 {
		return 0
	}

	normalized := make([]float64, len(scores))
	for i, score := range scores {
		normalized[i] = clamp(score, 0, 10)
	}

	for _, rule := range rules {
		if matches(rule.Predicate, normalized) {
			return round2(clamp(apply(rule.Formula, normalized), 0, 10))
		}
	}

	return round2(clamp(mean(normalized), 0, 10))
}

func matches(p Predicate, scores []float64) bool {
	switch p.Kind {
	case PredicateMinGreaterThan:
		return minOf(scores) > p.Threshold
	case PredicateAnyWithin:
		for _, s := range scores {
			if s >= p.Lower && s <= p.Upper {
				return true
			}
		}
		return false
	case PredicateAnyBelow:
		for _, s := range scores {
			if s < p.Threshold {
				return true
			}
		}
		return false
	case PredicateAlways:
		return true
	default:
		return false
	}
}

func apply(f Formula, scores []float64) float64 {
	avg := mean(scores)

	switch f.Kind {
	case FormulaConstant:
		return f.Value
	case FormulaMean:
		return avg
	case FormulaMeanLinearBonus:
		return avg + f.Base + (avg-f.Pivot)*f.Slope
	case FormulaMeanFloored:
		return math.Max(f.Floor, avg-f.Penalty)
	case FormulaMeanDropHighest:
		return meanDroppingHighest(scores)
	default:
		return avg
	}
}

// meanDroppingHighest averages the scores excluding exactly one instance of
// the maximum value. A single score cannot be excluded, so it averages as-is.
func meanDroppingHighest(scores []float64) float64 {
	if len(scores) <= 1 {
		return mean(scores)
	}

	maxIdx := 0
	for i, s := range scores {
		if s > scores[maxIdx] {
			maxIdx = i
		}
	}

	var sum float64
	for i, s := range scores {
		if i == maxIdx {
			continue
		}
		sum += s
	}

	return sum / float64(len(scores)-1)
}

func mean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func minOf(scores []float64) float64 {
	min := scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
	}
	return min
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

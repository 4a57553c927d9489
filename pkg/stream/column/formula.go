/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package column

type (
	// Formula derives a Double column from two Long columns after every merge:
	// Target = Numerator / Denominator, or 0 when Denominator is 0.
	// The target is recomputed rather than merged, so its own operation should be Cover.
	Formula struct {
		Target      string
		Numerator   string
		Denominator string
	}
)

// Ratio is the only formula kind the collector needs: sums divided by counts.
func Ratio(target, numerator, denominator string) Formula {
	return Formula{Target: target, Numerator: numerator, Denominator: denominator}
}

func (f Formula) Calculate(numerator, denominator int64) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

package scoring

// RecoveryWeights are the relative weights of the recovery components
type RecoveryWeights struct {
	HRV   float64
	RHR   float64
	Sleep float64
	Form  float64
}

// DefaultRecoveryWeights returns the standard mix
func DefaultRecoveryWeights() RecoveryWeights {
	return RecoveryWeights{HRV: 0.40, RHR: 0.25, Sleep: 0.20, Form: 0.15}
}

// Recovery scores readiness from HRV and resting HR against baseline, last
// night's sleep, and training form.
func Recovery(b Bundle, w RecoveryWeights) (Score, error) {
	parts := []part{
		{name: "hrv", weight: w.HRV},
		{name: "rhr", weight: w.RHR},
		{name: "sleep", weight: w.Sleep},
		{name: "form", weight: w.Form},
	}

	// 10% above baseline HRV scores 75, 20% below scores 0
	if ratioOK(b.HRV, b.HRVBaseline) {
		hrv, base := *b.HRV, *b.HRVBaseline
		parts[0].value = 50 + (hrv/base-1)*250
		parts[0].ok = true
	}

	// every 1% under baseline RHR adds 5 points
	if ratioOK(b.RestingHR, b.RestingHRBaseline) {
		rhr, base := *b.RestingHR, *b.RestingHRBaseline
		parts[1].value = 50 + (base-rhr)/base*500
		parts[1].ok = true
	}

	switch {
	case b.PriorSleepScore != nil:
		parts[2].value = float64(*b.PriorSleepScore)
		parts[2].ok = true
	case ratioOK(b.SleepSeconds, b.SleepBaseline):
		slept, base := *b.SleepSeconds, *b.SleepBaseline
		parts[2].value = slept / base * 100
		parts[2].ok = true
	}

	if b.TSB != nil {
		parts[3].value = 70 + 2*(*b.TSB)
		parts[3].ok = true
	}

	return weighted(KindRecovery, parts)
}

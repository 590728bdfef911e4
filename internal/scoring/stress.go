package scoring

// StressWeights cap each penalty; a day maxing every component scores their sum.
type StressWeights struct {
	HRV             float64
	RHR             float64
	RecoveryDeficit float64
	TrainingLoad    float64
	SleepDisruption float64
}

// DefaultStressWeights returns caps summing to 100
func DefaultStressWeights() StressWeights {
	return StressWeights{
		HRV:             15,
		RHR:             15,
		RecoveryDeficit: 30,
		TrainingLoad:    30,
		SleepDisruption: 10,
	}
}

// StressInput gathers what acute stress is derived from.
type StressInput struct {
	HRV               *float64
	HRVBaseline       *float64
	RestingHR         *float64
	RestingHRBaseline *float64
	Recovery          *int
	Sleep             *int
	WakeEvents        *int
	ATL               *float64
	CTL               *float64
}

const (
	hrvDropFull      = 0.30 // HRV 30% under baseline takes the whole HRV cap
	rhrRiseFull      = 0.10
	recoveryFair     = 60.0
	sleepFair        = 70.0
	wakeEventsFull   = 6.0
	rampStart        = 0.8
	rampSteep        = 1.0
	overreaching     = 1.3
	rampShallowShare = 0.3
	rampSteepShare   = 0.5
	sleepScoreShare  = 0.7
	wakeEventsShare  = 0.3
)

// Stress sums the capped penalties of the available components. Missing
// inputs contribute nothing; ErrNoSignal only when every input is missing.
func Stress(in StressInput, w StressWeights) (Score, error) {
	var components []Component
	var total float64
	found := false

	add := func(name string, penalty, limit float64, ok bool) {
		c := Component{Name: name, Weight: limit, Available: ok}
		if ok {
			penalty = clamp(penalty, 0, limit)
			total += penalty
			if limit > 0 {
				c.Value = round(penalty / limit * 100)
			}
			found = true
		}
		components = append(components, c)
	}

	var physio float64
	hrvOK := ratioOK(in.HRV, in.HRVBaseline)
	rhrOK := ratioOK(in.RestingHR, in.RestingHRBaseline)
	if hrvOK {
		drop := (*in.HRVBaseline - *in.HRV) / *in.HRVBaseline
		physio += w.HRV * clamp(drop/hrvDropFull, 0, 1)
	}
	if rhrOK {
		rise := (*in.RestingHR - *in.RestingHRBaseline) / *in.RestingHRBaseline
		physio += w.RHR * clamp(rise/rhrRiseFull, 0, 1)
	}
	physioCap := 0.0
	if hrvOK {
		physioCap += w.HRV
	}
	if rhrOK {
		physioCap += w.RHR
	}
	add("physiological", physio, physioCap, hrvOK || rhrOK)

	var deficit float64
	if in.Recovery != nil && float64(*in.Recovery) < recoveryFair {
		deficit = w.RecoveryDeficit * (recoveryFair - float64(*in.Recovery)) / recoveryFair
	}
	add("recovery_deficit", deficit, w.RecoveryDeficit, in.Recovery != nil)

	var disruption float64
	if in.Sleep != nil && float64(*in.Sleep) < sleepFair {
		disruption += w.SleepDisruption * sleepScoreShare * (sleepFair - float64(*in.Sleep)) / sleepFair
	}
	if in.WakeEvents != nil {
		disruption += w.SleepDisruption * wakeEventsShare * clamp(float64(*in.WakeEvents)/wakeEventsFull, 0, 1)
	}
	add("sleep_disruption", disruption, w.SleepDisruption, in.Sleep != nil || in.WakeEvents != nil)

	loadOK := in.ATL != nil && in.CTL != nil
	var load float64
	if loadOK {
		load = TrainingLoadPenalty(*in.ATL, *in.CTL, w.TrainingLoad)
	}
	add("training_load", load, w.TrainingLoad, loadOK)

	if !found {
		return Score{Kind: KindStress, Components: components}, ErrNoSignal
	}
	return finish(KindStress, total, components), nil
}

// TrainingLoadPenalty ramps with the acute:chronic ratio: nothing under 0.8,
// a shallow ramp to 1.0, a steeper one to 1.3, then the full cap.
func TrainingLoadPenalty(atl, ctl, limit float64) float64 {
	if ctl <= 0 {
		return 0
	}
	r := atl / ctl
	switch {
	case r < rampStart:
		return 0
	case r < rampSteep:
		return limit * rampShallowShare * (r - rampStart) / (rampSteep - rampStart)
	case r < overreaching:
		return limit * (rampShallowShare + rampSteepShare*(r-rampSteep)/(overreaching-rampSteep))
	default:
		return limit
	}
}

// ChronicStress is the mean of today's acute stress and up to six prior days.
func ChronicStress(prior []int, today int) int {
	if len(prior) > 6 {
		prior = prior[len(prior)-6:]
	}
	sum := float64(today)
	for _, v := range prior {
		sum += float64(v)
	}
	return round(clamp(sum/float64(len(prior)+1), 0, 100))
}

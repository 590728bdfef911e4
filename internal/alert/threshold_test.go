package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// alternating 40/60 has mean 50 and population sigma 10
func spread(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 40
		} else {
			out[i] = 60
		}
	}
	return out
}

func TestCompute(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name       string
		history    []float64
		ctl        float64
		want       float64
		calibrated bool
	}{
		{"mean 50 sigma 10 at CTL 70", spread(30), 70, 65, true},
		{"fit athlete clamps to max", spread(30), 130, 70, true},
		{"detrained lowers threshold", spread(30), 10, 55, true},
		{"fitness adjustment saturates", spread(30), -500, 55, true},
		{"too little history", spread(6), 70, 60, false},
		{"empty history", nil, 70, 60, false},
		{"low steady stress clamps to min", []float64{10, 10, 10, 10, 10, 10, 10}, 70, 40, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := Compute(tt.history, tt.ctl, cfg)
			assert.InDelta(t, tt.want, th.Value, 1e-9)
			assert.Equal(t, tt.calibrated, th.Calibrated)
			assert.GreaterOrEqual(t, th.Value, cfg.Min)
			assert.LessOrEqual(t, th.Value, cfg.Max)
		})
	}
}

func TestComputeUsesTrailingWindow(t *testing.T) {
	history := append([]float64{100, 100, 100, 100, 100}, spread(30)...)
	th := Compute(history, 70, DefaultConfig())
	assert.InDelta(t, 50, th.Mean, 1e-9)
	assert.InDelta(t, 10, th.StdDev, 1e-9)
}

func TestEvaluate(t *testing.T) {
	th := Threshold{Value: 65}

	assert.True(t, Evaluate(70, th).Fire)
	assert.False(t, Evaluate(65, th).Fire, "equal does not exceed")
	assert.False(t, Evaluate(30, th).Fire)
	assert.InDelta(t, 5, Evaluate(70, th).Margin, 1e-9)
}

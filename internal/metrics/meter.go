package metrics

// Meter tracks a running average over weighted updates.
type Meter struct {
	Val   float64
	Sum   float64
	Count int
	Avg   float64
}

// Update records a value observed over n samples.
func (m *Meter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
	if m.Count > 0 {
		m.Avg = m.Sum / float64(m.Count)
	}
}

// Reset clears the meter.
func (m *Meter) Reset() {
	*m = Meter{}
}

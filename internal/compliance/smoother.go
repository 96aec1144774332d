package compliance

import "gonum.org/v1/gonum/stat"

// ItemVerdict is the smoothed reading for one item buffer.
type ItemVerdict struct {
	Confirmed      bool    // plurality present and mean confidence ≥ threshold
	Sampled        bool    // at least MinSamples observations
	MeanConfidence float64 // over the whole buffer, absent entries count as 0
	Samples        int
}

// Smoother reduces an item buffer to a debounced verdict.
type Smoother struct {
	ConfirmThreshold float64
	MinSamples       int
}

// Verdict evaluates buf. A tie between present and absent resolves to
// absent. An under-sampled buffer is never confirmed.
func (s Smoother) Verdict(buf *RingBuffer) ItemVerdict {
	values := buf.Values()
	v := ItemVerdict{Samples: len(values), Sampled: len(values) >= s.MinSamples}
	if len(values) == 0 {
		return v
	}

	confs := make([]float64, len(values))
	present := 0
	for i, o := range values {
		confs[i] = o.Confidence
		if o.Present {
			present++
		}
	}
	v.MeanConfidence = stat.Mean(confs, nil)
	plurality := present*2 > len(values)
	v.Confirmed = v.Sampled && plurality && v.MeanConfidence >= s.ConfirmThreshold
	return v
}

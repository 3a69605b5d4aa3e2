package matframe

import "gonum.org/v1/gonum/stat"

// GridStats summarises the sample distribution of one frame payload. External
// analyzers read these alongside the frame; nothing in the pipeline keys off
// them.
type GridStats struct {
	Max          int     `json:"max"`
	Min          int     `json:"min"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	NonzeroCount int     `json:"nonzero_count"`
	TotalPoints  int     `json:"total_points"`
}

// ComputeGridStats calculates distribution statistics for a payload. The
// standard deviation is the population deviation over all samples.
func ComputeGridStats(payload []byte) GridStats {
	if len(payload) == 0 {
		return GridStats{}
	}

	samples := make([]float64, len(payload))
	gs := GridStats{
		Max:         int(payload[0]),
		Min:         int(payload[0]),
		TotalPoints: len(payload),
	}
	for i, b := range payload {
		v := int(b)
		samples[i] = float64(v)
		if v > gs.Max {
			gs.Max = v
		}
		if v < gs.Min {
			gs.Min = v
		}
		if v != 0 {
			gs.NonzeroCount++
		}
	}

	gs.Mean = stat.Mean(samples, nil)
	gs.StdDev = stat.PopStdDev(samples, nil)
	return gs
}

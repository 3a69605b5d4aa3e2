package pipeline

// LinkStatus reports the liveness and framing counters of one bound link.
type LinkStatus struct {
	ID            int    `json:"id"`
	Path          string `json:"path"`
	Down          bool   `json:"down"`
	Frames        uint64 `json:"frames"`
	FramingErrors uint64 `json:"framing_errors"`
	Resyncs       uint64 `json:"resyncs"`
	StaleEmits    uint64 `json:"stale_emits"`

	// LastFrameAgeMs is the age of the link's newest frame, -1 before the
	// first frame.
	LastFrameAgeMs int64 `json:"last_frame_age_ms"`
}

// Snapshot is the running statistics surface read by external monitors. It
// is assembled from atomic counters and never blocks the acquisition path.
type Snapshot struct {
	Tier        string       `json:"tier"`
	Sequence    uint64       `json:"sequence"`
	Combined    uint64       `json:"combined"`
	Delivered   uint64       `json:"delivered"`
	Dropped     uint64       `json:"dropped"`
	Skipped     uint64       `json:"skipped"`
	QueueDepth  int          `json:"queue_depth"`
	Padded      uint64       `json:"padded"`
	Truncated   uint64       `json:"truncated"`
	ActiveLinks int          `json:"active_links"`
	Links       []LinkStatus `json:"links"`
}

// Stats assembles a point-in-time snapshot. Safe to call from any goroutine.
func (p *Pipeline) Stats() Snapshot {
	snap := Snapshot{
		Tier:        p.tier.Name,
		Sequence:    p.sync.Sequence(),
		Combined:    p.sync.Combined(),
		Delivered:   p.ctrl.Delivered(),
		Dropped:     p.ctrl.Dropped(),
		Skipped:     p.ctrl.Skipped(),
		QueueDepth:  p.ctrl.Queue().Depth(),
		Padded:      p.padded.Load(),
		Truncated:   p.truncated.Load(),
		ActiveLinks: p.mgr.ActiveCount(),
	}

	for i, l := range p.mgr.Links() {
		ds := l.DecoderStats()
		st := LinkStatus{
			ID:             l.ID(),
			Path:           l.Path(),
			Down:           l.Down(),
			Frames:         ds.Frames,
			FramingErrors:  ds.FramingErrors,
			Resyncs:        ds.Resyncs,
			StaleEmits:     p.sync.StaleEmits(i),
			LastFrameAgeMs: -1,
		}
		if age := l.LastFrameAge(); age >= 0 {
			st.LastFrameAgeMs = age.Milliseconds()
		}
		snap.Links = append(snap.Links, st)
	}
	return snap
}

package pipeline

import (
	"encoding/json"
	"net/http"

	"tailscale.com/tsweb"

	"github.com/gaitworks/pressuremat/internal/matframe"
)

// AttachAdminRoutes attaches the diagnostics endpoints to the given HTTP mux
// served at /debug/. These routes read atomic counters only and never block
// the acquisition path.
func (p *Pipeline) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("pipeline", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(p.Stats()); err != nil {
			http.Error(w, "failed to encode stats", http.StatusInternalServerError)
		}
	})

	debug.HandleSilentFunc("frame", func(w http.ResponseWriter, r *http.Request) {
		tf := p.LastFrame()
		if tf == nil {
			http.Error(w, "no frames combined yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Sequence  uint64             `json:"sequence"`
			Length    int                `json:"length"`
			Reindexed bool               `json:"reindexed"`
			StaleMask uint8              `json:"stale_mask"`
			Grid      matframe.GridStats `json:"grid"`
		}{
			Sequence:  tf.Sequence,
			Length:    len(tf.Payload),
			Reindexed: tf.Reindexed,
			StaleMask: tf.StaleMask,
			Grid:      matframe.ComputeGridStats(tf.Payload),
		})
	})
}

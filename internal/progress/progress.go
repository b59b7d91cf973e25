package progress

import (
	"math"

	"github.com/rahul/makeprogress/internal/store"
)

// Progress is a read-only projection of the step list.
type Progress struct {
	Total   int `json:"total"`
	Done    int `json:"done"`
	Stuck   int `json:"stuck"`
	Minutes int `json:"minutes"`
	Percent int `json:"percent"`
}

// Aggregate counts steps and sums estimates. Percent is rounded and is 0
// for an empty list.
func Aggregate(steps []store.Step) Progress {
	p := Progress{Total: len(steps)}
	for _, s := range steps {
		switch s.State {
		case store.StateDone:
			p.Done++
		case store.StateStuck:
			p.Stuck++
		}
		p.Minutes += s.EstimateMinutes
	}
	if p.Total > 0 {
		p.Percent = int(math.Round(100 * float64(p.Done) / float64(p.Total)))
	}
	return p
}

package matcher

import "time"

// TrackView is a read-only copy of a track for reporting.
type TrackView struct {
	ID         string    `json:"id"`
	Camera     string    `json:"camera"`
	Tag        string    `json:"tag"`
	Aliases    []string  `json:"aliases,omitempty"`
	Samples    int       `json:"samples"`
	LastUpdate time.Time `json:"last_update"`
}

// resolution is the immutable lookup state published after each round.
type resolution struct {
	round     uint64
	canonical map[string]struct{}
	aliases   map[string]string
	tracks    []TrackView
}

var emptyResolution = &resolution{
	canonical: map[string]struct{}{},
	aliases:   map[string]string{},
}

// resolve maps a local id to its canonical id.
func (r *resolution) resolve(id string) (string, bool) {
	if _, ok := r.canonical[id]; ok {
		return id, true
	}
	canon, ok := r.aliases[id]
	return canon, ok
}

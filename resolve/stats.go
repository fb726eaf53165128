package resolve

import "sync/atomic"

// Layer identifies a cascade layer.
type Layer int

const (
	LayerMemory Layer = iota
	LayerLocal
	LayerPeers
	LayerDiscovery
	LayerOrigin
	numLayers
)

func (l Layer) String() string {
	switch l {
	case LayerMemory:
		return "memory"
	case LayerLocal:
		return "local"
	case LayerPeers:
		return "peers"
	case LayerDiscovery:
		return "discovery"
	case LayerOrigin:
		return "origin"
	default:
		return "unknown"
	}
}

// LayerStats counts outcomes at one layer.
type LayerStats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Stats is a snapshot of cascade counters.
type Stats struct {
	Layers map[string]LayerStats `json:"layers"`
	// Unavailable counts resolutions that exhausted every layer.
	Unavailable uint64 `json:"unavailable"`
	// Shared counts callers that joined an in-flight resolution.
	Shared uint64 `json:"shared"`
}

type counters struct {
	hits        [numLayers]atomic.Uint64
	misses      [numLayers]atomic.Uint64
	unavailable atomic.Uint64
	shared      atomic.Uint64
}

func (c *counters) hit(l Layer)  { c.hits[l].Add(1) }
func (c *counters) miss(l Layer) { c.misses[l].Add(1) }

// Stats returns a snapshot of the counters.
func (c *Cascade) Stats() Stats {
	s := Stats{
		Layers:      make(map[string]LayerStats, numLayers),
		Unavailable: c.stats.unavailable.Load(),
		Shared:      c.stats.shared.Load(),
	}
	for l := LayerMemory; l < numLayers; l++ {
		s.Layers[l.String()] = LayerStats{Hits: c.stats.hits[l].Load(), Misses: c.stats.misses[l].Load()}
	}
	return s
}

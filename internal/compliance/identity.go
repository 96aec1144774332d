package compliance

import (
	"fmt"
	"math"
	"sort"
)

// TrackUpdate is the result of one identity pass. IDs is parallel to the
// regions passed to Update; an empty ID means the region was dropped.
// Evicted lists tracks removed this frame, sorted.
type TrackUpdate struct {
	IDs     []string
	Evicted []string
}

// IdentityTracker maps person regions to stable identifiers across frames.
// Implementations must be deterministic for a given input sequence.
type IdentityTracker interface {
	Update(regions []PersonRegion) TrackUpdate
	// Len returns the number of live tracks.
	Len() int
}

// tieBias separates equal-cost pairs so the lowest track ID and the
// earliest region win. It must stay well below one pixel.
const tieBias = 1e-9

type centroidTrack struct {
	id     string
	bbox   BBox
	misses int
}

// CentroidTracker is the default IdentityTracker. It assigns regions to live
// tracks by optimal (Hungarian) assignment on centroid distance, gated by
// MatchDistance. New tracks are named from the quantised top-left corner of
// their first box, so IDs are an approximation of identity and may be reused
// once a track has been evicted.
type CentroidTracker struct {
	MatchDistance float64
	BucketSize    float64
	MaxMisses     int

	tracks map[string]*centroidTrack
}

// NewCentroidTracker creates a tracker from engine configuration.
func NewCentroidTracker(cfg EngineConfig) *CentroidTracker {
	return &CentroidTracker{
		MatchDistance: cfg.MatchDistance,
		BucketSize:    cfg.IDBucketSize,
		MaxMisses:     cfg.MaxMisses,
		tracks:        make(map[string]*centroidTrack),
	}
}

// Len returns the number of live tracks.
func (t *CentroidTracker) Len() int { return len(t.tracks) }

// Update matches this frame's regions and ages unmatched tracks.
func (t *CentroidTracker) Update(regions []PersonRegion) TrackUpdate {
	ids := make([]string, len(regions))
	matched := make(map[string]bool, len(regions))

	// Upstream identities are authoritative.
	var pending []int
	for i, r := range regions {
		if r.TrackID == "" {
			pending = append(pending, i)
			continue
		}
		if matched[r.TrackID] {
			diagf("duplicate upstream track %s in frame, region %d dropped", r.TrackID, i)
			continue
		}
		t.touch(r.TrackID, r.BBox)
		ids[i] = r.TrackID
		matched[r.TrackID] = true
	}

	// Candidate tracks ordered by ID so cost ties resolve to the lowest ID.
	var candidates []*centroidTrack
	for id, tr := range t.tracks {
		if !matched[id] {
			candidates = append(candidates, tr)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	if len(pending) > 0 && len(candidates) > 0 {
		dim := max(len(pending), len(candidates))
		forbidden := float64(dim+1) * (t.MatchDistance + 1)
		cost := make([][]float64, len(pending))
		for i, ri := range pending {
			cost[i] = make([]float64, len(candidates))
			rx, ry := regions[ri].BBox.Center()
			for j, tr := range candidates {
				tx, ty := tr.bbox.Center()
				d := math.Hypot(rx-tx, ry-ty)
				if d > t.MatchDistance {
					cost[i][j] = forbidden
					continue
				}
				cost[i][j] = d + tieBias*float64((i+1)*(j+1))
			}
		}
		assign := hungarianAssign(cost, forbidden)
		var unmatched []int
		for i, ri := range pending {
			if j := assign[i]; j >= 0 {
				tr := candidates[j]
				tr.bbox = regions[ri].BBox
				tr.misses = 0
				ids[ri] = tr.id
				matched[tr.id] = true
				continue
			}
			unmatched = append(unmatched, ri)
		}
		pending = unmatched
	}

	for _, ri := range pending {
		id := t.newID(regions[ri].BBox)
		t.touch(id, regions[ri].BBox)
		ids[ri] = id
		matched[id] = true
		tracef("new track %s at %+v", id, regions[ri].BBox)
	}

	var evicted []string
	for id, tr := range t.tracks {
		if matched[id] {
			continue
		}
		tr.misses++
		if tr.misses > t.MaxMisses {
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	for _, id := range evicted {
		delete(t.tracks, id)
		diagf("evicted track %s after %d misses", id, t.MaxMisses+1)
	}

	return TrackUpdate{IDs: ids, Evicted: evicted}
}

func (t *CentroidTracker) touch(id string, b BBox) {
	tr, ok := t.tracks[id]
	if !ok {
		tr = &centroidTrack{id: id}
		t.tracks[id] = tr
	}
	tr.bbox = b
	tr.misses = 0
}

// newID derives "P<x>_<y>" from the bucketed top-left corner, suffixing
// "-2", "-3", ... while the base name is live.
func (t *CentroidTracker) newID(b BBox) string {
	bucket := t.BucketSize
	if bucket <= 0 {
		bucket = 1
	}
	base := fmt.Sprintf("P%d_%d", int(math.Floor(b.X1/bucket)), int(math.Floor(b.Y1/bucket)))
	id := base
	for n := 2; t.tracks[id] != nil; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

package compliance

import "math"

// AssociationStrategy selects the item-to-person overlap test.
type AssociationStrategy string

const (
	// StrategyIoU attaches an item when IoU(item, person) meets the threshold.
	StrategyIoU AssociationStrategy = "iou"
	// StrategyCenter attaches an item when its centre lies inside the person box.
	StrategyCenter AssociationStrategy = "center"
)

// Observation is one raw presence reading for one item.
type Observation struct {
	Present    bool
	Confidence float64
}

// PersonRegion is a person detection with the raw item observations that
// overlap it. Items holds an entry for every required item; absent items
// carry confidence 0.
type PersonRegion struct {
	BBox       BBox
	Confidence float64
	TrackID    string
	Items      map[ItemClass]Observation
}

// AssociationResult is the output of one association pass.
type AssociationResult struct {
	Persons    []PersonRegion
	Malformed  int // degenerate boxes, bad confidences, unknown classes
	BelowFloor int // valid detections under the confidence floor
}

// Associator partitions a frame's detections into person regions and
// attaches overlapping item detections. It holds no state.
type Associator struct {
	Strategy       AssociationStrategy
	IoUThreshold   float64
	DetectionFloor float64
	RequiredItems  []ItemClass
}

// NewAssociator builds an Associator from engine configuration.
func NewAssociator(cfg EngineConfig) Associator {
	return Associator{
		Strategy:       cfg.Strategy,
		IoUThreshold:   cfg.IoUThreshold,
		DetectionFloor: cfg.DetectionFloor,
		RequiredItems:  cfg.RequiredItems,
	}
}

func validDetection(d Detection) bool {
	if !knownClasses[d.Class] || !d.BBox.Valid() {
		return false
	}
	return !math.IsNaN(d.Confidence) && d.Confidence >= 0 && d.Confidence <= 100
}

// Associate runs the overlap test. Person order follows detection order.
// When several detections of one class overlap a person the most confident
// one wins.
func (a Associator) Associate(dets []Detection) AssociationResult {
	var res AssociationResult
	var items []Detection

	for _, d := range dets {
		d.Class, _ = ParseItemClass(string(d.Class))
		if !validDetection(d) {
			res.Malformed++
			tracef("dropped malformed detection class=%q bbox=%+v conf=%v", d.Class, d.BBox, d.Confidence)
			continue
		}
		if d.Confidence < a.DetectionFloor {
			res.BelowFloor++
			continue
		}
		if d.Class == ClassPerson {
			res.Persons = append(res.Persons, PersonRegion{
				BBox:       d.BBox,
				Confidence: d.Confidence,
				TrackID:    d.TrackID,
			})
			continue
		}
		items = append(items, d)
	}

	for i := range res.Persons {
		p := &res.Persons[i]
		p.Items = make(map[ItemClass]Observation, len(a.RequiredItems))
		for _, req := range a.RequiredItems {
			p.Items[req] = Observation{}
		}
		for _, it := range items {
			cur, required := p.Items[it.Class]
			if !required || !a.overlaps(p.BBox, it.BBox) {
				continue
			}
			if !cur.Present || it.Confidence > cur.Confidence {
				p.Items[it.Class] = Observation{Present: true, Confidence: it.Confidence}
			}
		}
	}
	return res
}

func (a Associator) overlaps(person, item BBox) bool {
	if a.Strategy == StrategyCenter {
		return person.Contains(item.Center())
	}
	return person.IoU(item) >= a.IoUThreshold
}

package analysis

// DetectionPoint marks suspicious content. Any detection point reachable from
// a root turns that root into an alert candidate.
type DetectionPoint struct {
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
}

// Taggable carries a set of free-form tags. Embedded by Observable, Analysis
// and RootAnalysis.
type Taggable struct {
	Tags []string `json:"tags,omitempty"`
}

// AddTag appends the tag if not already present.
func (t *Taggable) AddTag(tag string) {
	t.Tags = appendUnique(t.Tags, tag)
}

// HasTag reports whether the tag is present.
func (t *Taggable) HasTag(tag string) bool {
	return contains(t.Tags, tag)
}

func (t *Taggable) mergeTags(target *Taggable) {
	for _, tag := range target.Tags {
		t.AddTag(tag)
	}
}

// Detectable carries detection points. Embedded alongside Taggable.
type Detectable struct {
	DetectionPoints []DetectionPoint `json:"detection_points,omitempty"`
}

// AddDetectionPoint records a detection with the given description.
func (d *Detectable) AddDetectionPoint(description string) {
	d.AddDetection(DetectionPoint{Description: description})
}

// AddDetection records a detection point, ignoring exact duplicates.
func (d *Detectable) AddDetection(dp DetectionPoint) {
	for _, existing := range d.DetectionPoints {
		if existing == dp {
			return
		}
	}
	d.DetectionPoints = append(d.DetectionPoints, dp)
}

// HasDetectionPoints reports whether any detection was recorded on this object.
func (d *Detectable) HasDetectionPoints() bool {
	return len(d.DetectionPoints) > 0
}

func (d *Detectable) mergeDetections(target *Detectable) {
	for _, dp := range target.DetectionPoints {
		d.AddDetection(dp)
	}
}

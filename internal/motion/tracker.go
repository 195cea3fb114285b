// Package motion implements frame-history liveness checks: a live subject
// blinks, and a printed photo or replayed screen tends to be unnaturally
// still.
package motion

import (
	"math"
	"time"
)

const (
	// MaxHistory is the number of snapshots kept per face.
	MaxHistory = 12
	// MinFrames is the history length required before any dynamic check runs.
	MinFrames = 10
	// MinSpan is the shortest history duration trusted for the stillness
	// check unless the history is already full.
	MinSpan = 200 * time.Millisecond

	// StillnessPosition is the maximum centre movement, in pixels, of a face
	// considered too still.
	StillnessPosition = 5
	// StillnessAngle is the maximum yaw and roll change, in degrees, of a
	// face considered too still.
	StillnessAngle = 3.0

	// EyeClosedThreshold: an eye-open probability below this is closed.
	EyeClosedThreshold = 0.5
	// EyeOpenThreshold: an eye-open probability above this is open.
	EyeOpenThreshold = 0.7
)

// Snapshot is one observation of a tracked face produced by the upstream
// face detector.
type Snapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	CenterX      int       `json:"center_x"`
	CenterY      int       `json:"center_y"`
	Yaw          float32   `json:"yaw"`
	Roll         float32   `json:"roll"`
	LeftEyeOpen  *float32  `json:"left_eye_open,omitempty"`
	RightEyeOpen *float32  `json:"right_eye_open,omitempty"`
}

// Assessment summarises the dynamic checks for one face.
type Assessment struct {
	Frames   int  `json:"frames"`
	Enough   bool `json:"enough_history"`
	TooStill bool `json:"too_still"`
	Blinked  bool `json:"blinked"`
	// Pass is false when enough history exists and no blink was seen. With
	// too little history the model verdict stands on its own.
	Pass bool `json:"pass"`
}

// Tracker keeps the recent history of a single tracked face. It is not safe
// for concurrent use; Registry serializes access.
type Tracker struct {
	trackingID *int
	history    []Snapshot
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{history: make([]Snapshot, 0, MaxHistory)}
}

// Observe appends s for the face with trackingID. A nil tracking ID or a
// change of ID drops the existing history.
func (t *Tracker) Observe(trackingID *int, s Snapshot) {
	if trackingID == nil {
		t.history = t.history[:0]
		t.trackingID = nil
		return
	}

	if t.trackingID == nil || *t.trackingID != *trackingID {
		t.history = t.history[:0]
		id := *trackingID
		t.trackingID = &id
	}

	if len(t.history) >= MaxHistory {
		copy(t.history, t.history[1:])
		t.history = t.history[:len(t.history)-1]
	}
	t.history = append(t.history, s)
}

// Reset clears the history.
func (t *Tracker) Reset() {
	t.history = t.history[:0]
	t.trackingID = nil
}

// Len returns the number of snapshots held.
func (t *Tracker) Len() int {
	return len(t.history)
}

// HasBlinked reports whether the history contains a frame with both eyes
// closed followed by a frame with both eyes open. Missing eye probabilities
// count as open.
func (t *Tracker) HasBlinked() bool {
	if len(t.history) < MinFrames {
		return false
	}

	sawClosed := false
	for _, s := range t.history {
		left := eyeProb(s.LeftEyeOpen)
		right := eyeProb(s.RightEyeOpen)

		if left < EyeClosedThreshold && right < EyeClosedThreshold {
			sawClosed = true
		}
		if sawClosed && left > EyeOpenThreshold && right > EyeOpenThreshold {
			return true
		}
	}
	return false
}

// IsTooStill reports whether neither the face position nor its head pose
// moved meaningfully across the history.
func (t *Tracker) IsTooStill() bool {
	if len(t.history) < MinFrames {
		return false
	}

	first, last := t.history[0], t.history[len(t.history)-1]
	if last.Timestamp.Sub(first.Timestamp) < MinSpan && len(t.history) < MaxHistory {
		return false
	}

	minX, maxX := first.CenterX, first.CenterX
	minY, maxY := first.CenterY, first.CenterY
	minYaw, maxYaw := first.Yaw, first.Yaw
	minRoll, maxRoll := first.Roll, first.Roll
	for _, s := range t.history[1:] {
		minX, maxX = min(minX, s.CenterX), max(maxX, s.CenterX)
		minY, maxY = min(minY, s.CenterY), max(maxY, s.CenterY)
		minYaw, maxYaw = min(minYaw, s.Yaw), max(maxYaw, s.Yaw)
		minRoll, maxRoll = min(minRoll, s.Roll), max(maxRoll, s.Roll)
	}

	stillPosition := maxX-minX < StillnessPosition && maxY-minY < StillnessPosition
	stillAngle := math.Abs(float64(maxYaw-minYaw)) < StillnessAngle &&
		math.Abs(float64(maxRoll-minRoll)) < StillnessAngle

	return stillPosition && stillAngle
}

// Assess runs both checks.
func (t *Tracker) Assess() Assessment {
	a := Assessment{
		Frames: len(t.history),
		Enough: len(t.history) >= MinFrames,
	}
	if !a.Enough {
		a.Pass = true
		return a
	}

	a.TooStill = t.IsTooStill()
	a.Blinked = t.HasBlinked()
	a.Pass = a.Blinked
	return a
}

func eyeProb(p *float32) float32 {
	if p == nil {
		return 1.0
	}
	return *p
}

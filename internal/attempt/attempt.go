// Package attempt runs the bounded capture -> extract -> match retry loop
// that turns noisy per-frame results into one terminal outcome.
package attempt

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/matcher"
	"github.com/andresmejia3/gatekeeper/internal/types"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxAttempts = 5
	DefaultInterval    = time.Second
)

// Kind classifies a single attempt.
type Kind int

const (
	CaptureFailed Kind = iota
	NoFaceDetected
	Unrecognized
	Identified
)

func (k Kind) String() string {
	switch k {
	case CaptureFailed:
		return "capture_failed"
	case NoFaceDetected:
		return "no_face"
	case Unrecognized:
		return "unrecognized"
	case Identified:
		return "identified"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the result of one attempt, and of the loop as a whole.
type Outcome struct {
	Kind     Kind
	Identity string  // set only for Identified
	Distance float64 // closest registry distance, when a face was matched
}

// IsIdentified reports whether the outcome unlocks.
func (o Outcome) IsIdentified() bool { return o.Kind == Identified }

// Camera takes one still.
type Camera interface {
	Capture(ctx context.Context) (types.Image, error)
}

// Extractor turns an image into face detections.
type Extractor interface {
	Extract(ctx context.Context, img types.Image) (types.ExtractResult, error)
}

// PrimaryPolicy chooses which detected face is matched.
type PrimaryPolicy string

const (
	// PrimaryFirst uses detection order.
	PrimaryFirst PrimaryPolicy = "first"
	// PrimaryLargest uses the largest bounding box; ties keep the earlier face.
	PrimaryLargest PrimaryPolicy = "largest"
)

// ParsePrimaryPolicy validates a configured policy name.
func ParsePrimaryPolicy(s string) (PrimaryPolicy, error) {
	switch p := PrimaryPolicy(s); p {
	case PrimaryFirst, PrimaryLargest:
		return p, nil
	case "":
		return PrimaryFirst, nil
	}
	return "", fmt.Errorf("unknown primary face policy %q (want first or largest)", s)
}

// Primary returns the index of the face to match, -1 if there are none.
func (p PrimaryPolicy) Primary(faces []types.FaceResult) int {
	if len(faces) == 0 {
		return -1
	}
	if p != PrimaryLargest {
		return 0
	}
	best, bestArea := 0, faces[0].Area()
	for i, f := range faces[1:] {
		if a := f.Area(); a > bestArea {
			best, bestArea = i+1, a
		}
	}
	return best
}

// SleepFunc waits between attempts.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc: a timer that also honours ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loop holds the collaborators and the retry policy.
type Loop struct {
	Camera      Camera
	Extractor   Extractor
	Registry    []types.Identity
	Tolerance   float64
	MaxAttempts int
	Interval    time.Duration
	Policy      PrimaryPolicy
	// Sleep defaults to the package-level Sleep.
	Sleep SleepFunc
}

// Run executes up to MaxAttempts attempts and returns the terminal outcome
// along with the number of attempts used. It returns as soon as one attempt
// is Identified. When the budget runs out the last outcome is returned.
// A cancelled ctx stops the loop between attempts.
func (l *Loop) Run(ctx context.Context) (Outcome, int) {
	maxAttempts := l.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := l.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var last Outcome
	for n := 1; n <= maxAttempts; n++ {
		logger := log.WithFields(log.Fields{"component": "attempt", "attempt": n, "max": maxAttempts})
		logger.Info("🔍 Attempt started")

		last = l.once(ctx, logger)
		if last.IsIdentified() {
			return last, n
		}
		if n == maxAttempts {
			return last, n
		}
		if err := sleep(ctx, l.Interval); err != nil {
			logger.WithError(err).Warn("Attempt loop interrupted")
			return last, n
		}
	}
	return last, maxAttempts
}

// once performs a single capture/extract/match cycle.
func (l *Loop) once(ctx context.Context, logger *log.Entry) Outcome {
	img, err := l.Camera.Capture(ctx)
	if err != nil {
		logger.WithError(err).Warn("❌ Capture failed")
		return Outcome{Kind: CaptureFailed}
	}

	res, err := l.Extractor.Extract(ctx, img)
	if err != nil {
		logger.WithError(err).Warn("❌ Extraction failed")
		return Outcome{Kind: NoFaceDetected}
	}
	for _, box := range res.Objects {
		logger.WithField("box", box).Debug("Object detector box")
	}

	idx := l.Policy.Primary(res.Faces)
	if idx < 0 {
		logger.Info("👤 No face could be encoded")
		return Outcome{Kind: NoFaceDetected}
	}
	if len(res.Faces) > 1 {
		logger.WithFields(log.Fields{"faces": len(res.Faces), "policy": string(l.Policy), "primary": idx}).
			Info("Multiple faces detected")
	}

	face := res.Faces[idx]
	m := matcher.Match(face.Vec, l.Registry, l.Tolerance)
	logger = logger.WithFields(log.Fields{"loc": face.Loc, "distance": m.Distance})
	if !m.Identified {
		logger.Info("👤 Face not recognized")
		return Outcome{Kind: Unrecognized, Distance: m.Distance}
	}

	logger.WithField("identity", m.Identity).Info("✅ Face recognized")
	return Outcome{Kind: Identified, Identity: m.Identity, Distance: m.Distance}
}

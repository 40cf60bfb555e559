package playback

import (
	"context"
	"errors"
	"math"

	"github.com/varshagowdavg/signbridge/internal/protocol"
)

// UpperBodyPoints is the number of leading pose landmarks kept by
// LandmarkRenderer; the remaining points cover hips, legs and feet.
const UpperBodyPoints = 23

var errEmptyFrame = errors.New("frame has no landmarks")

// LandmarkRenderer normalizes a sign frame for display: it keeps the upper
// body pose, clamps coordinates to the unit square and attaches the bounding
// box of the hands (or of the pose when no hand is visible).
type LandmarkRenderer struct{}

func (LandmarkRenderer) Render(ctx context.Context, frame protocol.SignFrame) (protocol.SignFrame, error) {
	if err := ctx.Err(); err != nil {
		return protocol.SignFrame{}, err
	}
	if len(frame.Pose) == 0 && !hasHand(frame.Hands) {
		return protocol.SignFrame{}, errEmptyFrame
	}

	out := protocol.SignFrame{Word: frame.Word}
	pose := frame.Pose
	if len(pose) > UpperBodyPoints {
		pose = pose[:UpperBodyPoints]
	}
	out.Pose = clampAll(pose)
	for _, hand := range frame.Hands {
		if len(hand) == 0 {
			continue
		}
		out.Hands = append(out.Hands, clampAll(hand))
	}

	if len(out.Hands) > 0 {
		out.Box = bounds(out.Hands...)
	} else {
		out.Box = bounds(out.Pose)
	}
	return out, nil
}

func hasHand(hands [][]protocol.Landmark) bool {
	for _, h := range hands {
		if len(h) > 0 {
			return true
		}
	}
	return false
}

func clampAll(points []protocol.Landmark) []protocol.Landmark {
	out := make([]protocol.Landmark, len(points))
	for i, p := range points {
		out[i] = protocol.Landmark{X: clamp01(p.X), Y: clamp01(p.Y), Z: p.Z}
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func bounds(sets ...[]protocol.Landmark) *protocol.Box {
	box := protocol.Box{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	n := 0
	for _, set := range sets {
		for _, p := range set {
			box.MinX = math.Min(box.MinX, p.X)
			box.MinY = math.Min(box.MinY, p.Y)
			box.MaxX = math.Max(box.MaxX, p.X)
			box.MaxY = math.Max(box.MaxY, p.Y)
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &box
}

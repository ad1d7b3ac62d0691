// Package referenceframe keeps a tree of named coordinate frames whose relative poses may change
// over time, and answers "where is frame A relative to frame B at time t" queries.
package referenceframe

import (
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/spatialmath"
)

const (
	// DefaultHistoryLength is how many poses are kept per dynamic frame.
	DefaultHistoryLength = 200
	// DefaultMaxExtrapolationUs is how far outside of its pose history, in microseconds, a dynamic
	// frame may be queried before the lookup fails.
	DefaultMaxExtrapolationUs = 500000
)

type stampedPose struct {
	utime int64
	pose  spatialmath.Pose
}

// frameLink is the pose of a frame relative to its parent. The pose maps coordinates expressed in
// the frame into coordinates expressed in the parent.
type frameLink struct {
	parent  string
	dynamic bool
	history []stampedPose
}

// TransformBuffer is a tree of frames. Static frames have a single fixed pose, dynamic frames
// keep a bounded, time sorted history of poses that is interpolated at lookup time. Frames
// without a parent are roots. It is safe for concurrent use.
type TransformBuffer struct {
	mu              sync.RWMutex
	links           map[string]*frameLink
	roots           map[string]struct{}
	channels        map[string]string
	historyLength   int
	maxExtrapolated int64
}

// NewTransformBuffer returns an empty buffer.
func NewTransformBuffer() *TransformBuffer {
	return &TransformBuffer{
		links:           map[string]*frameLink{},
		roots:           map[string]struct{}{},
		channels:        map[string]string{},
		historyLength:   DefaultHistoryLength,
		maxExtrapolated: DefaultMaxExtrapolationUs,
	}
}

// SetMaxExtrapolation changes how far, in microseconds, lookups may fall outside of a dynamic
// frame's history.
func (tb *TransformBuffer) SetMaxExtrapolation(us int64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.maxExtrapolated = us
}

// AddRoot adds a frame with no parent.
func (tb *TransformBuffer) AddRoot(name string) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if _, ok := tb.links[name]; ok {
		return errors.Errorf("frame %q already has a parent", name)
	}
	tb.roots[name] = struct{}{}
	return nil
}

// AddFrame adds a static frame whose pose relative to parent never changes. Unknown parents are
// added as roots.
func (tb *TransformBuffer) AddFrame(name, parent string, pose spatialmath.Pose) error {
	return tb.addLink(name, parent, &frameLink{parent: parent, history: []stampedPose{{pose: pose}}})
}

// AddDynamicFrame adds a frame whose pose relative to parent is supplied later through Update.
func (tb *TransformBuffer) AddDynamicFrame(name, parent string) error {
	return tb.addLink(name, parent, &frameLink{parent: parent, dynamic: true})
}

func (tb *TransformBuffer) addLink(name, parent string, link *frameLink) error {
	if name == "" {
		return errors.New("frame name cannot be empty")
	}
	if parent == "" {
		return NewParentFrameMissingError(name)
	}
	if name == parent {
		return errors.Errorf("frame %q cannot be its own parent", name)
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if _, ok := tb.links[name]; ok {
		return errors.Errorf("frame %q already exists", name)
	}
	// walking up from parent must not reach name
	for cur := parent; ; {
		l, ok := tb.links[cur]
		if !ok {
			break
		}
		if l.parent == name {
			return errors.Errorf("adding frame %q under %q would create a cycle", name, parent)
		}
		cur = l.parent
	}
	delete(tb.roots, name)
	if _, ok := tb.links[parent]; !ok {
		tb.roots[parent] = struct{}{}
	}
	tb.links[name] = link
	return nil
}

// Update records the pose of a dynamic frame relative to its parent at utime.
func (tb *TransformBuffer) Update(name string, utime int64, pose spatialmath.Pose) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	link, ok := tb.links[name]
	if !ok {
		return NewUnknownFrameError(name)
	}
	if !link.dynamic {
		return errors.Errorf("frame %q is static", name)
	}
	idx := sort.Search(len(link.history), func(i int) bool { return link.history[i].utime >= utime })
	switch {
	case idx < len(link.history) && link.history[idx].utime == utime:
		link.history[idx].pose = pose
	default:
		link.history = append(link.history, stampedPose{})
		copy(link.history[idx+1:], link.history[idx:])
		link.history[idx] = stampedPose{utime: utime, pose: pose}
	}
	if over := len(link.history) - tb.historyLength; over > 0 {
		link.history = append(link.history[:0], link.history[over:]...)
	}
	return nil
}

// BindChannel routes RigidTransform messages received on channel to the dynamic frame name.
func (tb *TransformBuffer) BindChannel(channel, name string) error {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	link, ok := tb.links[name]
	if !ok {
		return NewUnknownFrameError(name)
	}
	if !link.dynamic {
		return errors.Errorf("frame %q is static", name)
	}
	tb.channels[channel] = name
	return nil
}

// HandleTransformMessage decodes a RigidTransform payload and applies it to the frame bound to
// channel.
func (tb *TransformBuffer) HandleTransformMessage(payload []byte, channel string) error {
	tb.mu.RLock()
	name, ok := tb.channels[channel]
	tb.mu.RUnlock()
	if !ok {
		return errors.Errorf("no frame bound to channel %q", channel)
	}
	var msg message.RigidTransform
	if err := msg.Unmarshal(payload); err != nil {
		return errors.Wrapf(err, "decoding transform on %q", channel)
	}
	pose := spatialmath.NewPose(
		r3.Vector{X: msg.Trans[0], Y: msg.Trans[1], Z: msg.Trans[2]},
		quat.Number{Real: msg.Quat[0], Imag: msg.Quat[1], Jmag: msg.Quat[2], Kmag: msg.Quat[3]},
	)
	return tb.Update(name, msg.Utime, pose)
}

// FrameNames returns every known frame, sorted.
func (tb *TransformBuffer) FrameNames() []string {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	names := make([]string, 0, len(tb.links)+len(tb.roots))
	for name := range tb.links {
		names = append(names, name)
	}
	for name := range tb.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Transform returns the latest pose mapping points in frame from into frame to.
func (tb *TransformBuffer) Transform(from, to string) (spatialmath.Pose, error) {
	return tb.TransformAt(from, to, 0)
}

// TransformAt returns the pose mapping points in frame from into frame to at utime. A utime of 0
// uses the most recent pose of every dynamic frame.
func (tb *TransformBuffer) TransformAt(from, to string, utime int64) (spatialmath.Pose, error) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()

	if from == to {
		if !tb.exists(from) {
			return spatialmath.NewZeroPose(), NewUnknownFrameError(from)
		}
		return spatialmath.NewZeroPose(), nil
	}
	fromRoot, fromTop, err := tb.toRoot(from, utime)
	if err != nil {
		return spatialmath.NewZeroPose(), err
	}
	toRoot, toTop, err := tb.toRoot(to, utime)
	if err != nil {
		return spatialmath.NewZeroPose(), err
	}
	if fromTop != toTop {
		return spatialmath.NewZeroPose(), errors.Wrapf(ErrNoTransform, "frames %q and %q are not connected", from, to)
	}
	return spatialmath.Compose(spatialmath.PoseInverse(toRoot), fromRoot), nil
}

func (tb *TransformBuffer) exists(name string) bool {
	if _, ok := tb.links[name]; ok {
		return true
	}
	_, ok := tb.roots[name]
	return ok
}

// toRoot returns the pose of name relative to its root and the root's name.
func (tb *TransformBuffer) toRoot(name string, utime int64) (spatialmath.Pose, string, error) {
	if !tb.exists(name) {
		return spatialmath.NewZeroPose(), "", NewUnknownFrameError(name)
	}
	pose := spatialmath.NewZeroPose()
	cur := name
	for {
		link, ok := tb.links[cur]
		if !ok {
			return pose, cur, nil
		}
		linkPose, err := tb.poseAt(cur, link, utime)
		if err != nil {
			return spatialmath.NewZeroPose(), "", err
		}
		pose = spatialmath.Compose(linkPose, pose)
		cur = link.parent
	}
}

func (tb *TransformBuffer) poseAt(name string, link *frameLink, utime int64) (spatialmath.Pose, error) {
	if !link.dynamic {
		return link.history[0].pose, nil
	}
	hist := link.history
	if len(hist) == 0 {
		return spatialmath.NewZeroPose(), errors.Wrapf(ErrNoTransform, "frame %q has not been updated", name)
	}
	if utime == 0 {
		return hist[len(hist)-1].pose, nil
	}
	first, last := hist[0], hist[len(hist)-1]
	switch {
	case utime <= first.utime:
		if first.utime-utime > tb.maxExtrapolated {
			return spatialmath.NewZeroPose(), errors.Wrapf(ErrNoTransform,
				"frame %q: utime %d is before the oldest pose %d", name, utime, first.utime)
		}
		return first.pose, nil
	case utime >= last.utime:
		if utime-last.utime > tb.maxExtrapolated {
			return spatialmath.NewZeroPose(), errors.Wrapf(ErrNoTransform,
				"frame %q: utime %d is after the newest pose %d", name, utime, last.utime)
		}
		return last.pose, nil
	}
	idx := sort.Search(len(hist), func(i int) bool { return hist[i].utime >= utime })
	after, before := hist[idx], hist[idx-1]
	by := float64(utime-before.utime) / float64(after.utime-before.utime)
	return spatialmath.Interpolate(before.pose, after.pose, by), nil
}

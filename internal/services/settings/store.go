package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrInvalidPatch is returned when a patch is not a JSON object.
var ErrInvalidPatch = errors.New("settings: patch must be a JSON object")

// FieldError explains why one patch field was ignored.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ApplyResult lists what a patch changed.
type ApplyResult struct {
	Applied       []string     `json:"applied"`
	Rejected      []FieldError `json:"rejected"`
	CameraChanged bool         `json:"cameraChanged"`
}

// Store publishes immutable Configuration snapshots. Readers never lock;
// writers are serialized and swap in a complete new snapshot.
type Store struct {
	mu          sync.Mutex
	current     atomic.Pointer[Configuration]
	renegotiate chan struct{}
}

func NewStore(initial Configuration) *Store {
	s := &Store{renegotiate: make(chan struct{}, 1)}
	s.current.Store(&initial)
	return s
}

// Get returns the latest committed snapshot.
func (s *Store) Get() Configuration {
	return *s.current.Load()
}

// Renegotiate delivers one signal per batch of camera changes. The channel
// holds at most one pending signal.
func (s *Store) Renegotiate() <-chan struct{} {
	return s.renegotiate
}

// RequestRenegotiation queues a renegotiation without changing any value.
func (s *Store) RequestRenegotiation() {
	select {
	case s.renegotiate <- struct{}{}:
	default:
	}
}

// Replace swaps in a complete configuration after validating it.
func (s *Store) Replace(c Configuration) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	prev := s.current.Load()
	s.current.Store(&c)
	s.mu.Unlock()
	if !prev.Camera.SameDevice(c.Camera) {
		s.RequestRenegotiation()
	}
	return nil
}

// Apply merges a partial JSON object into the configuration. Every field is
// validated on its own: invalid or unknown fields are reported in Rejected
// and keep their previous value, the rest are committed together.
//
// Besides the nested form, the legacy top-level keys EAR_THRESHOLD and
// CONSEC_FRAMES set the drowsy tier's ear and consecFrames.
func (s *Store) Apply(patch []byte) (ApplyResult, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(patch, &root); err != nil || root == nil {
		return ApplyResult{}, ErrInvalidPatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := *s.current.Load()
	next := prev
	p := &patcher{}

	for _, key := range sortedKeys(root) {
		raw := root[key]
		switch key {
		case "thresholds":
			tiers, ok := p.object(key, raw)
			if !ok {
				continue
			}
			for _, name := range sortedKeys(tiers) {
				tier := next.Thresholds.byName(name)
				if tier == nil {
					p.reject("thresholds."+name, "unknown tier")
					continue
				}
				p.tier("thresholds."+name, tiers[name], tier)
			}
		case "weights":
			p.weights(raw, &next.Weights)
		case "camera":
			p.camera(raw, &next.Camera)
		case "EAR_THRESHOLD":
			p.floatField(key, raw, &next.Thresholds.Drowsy.EAR, checkEAR)
		case "CONSEC_FRAMES":
			p.intField(key, raw, &next.Thresholds.Drowsy.ConsecFrames, checkConsec)
		default:
			p.reject(key, "unknown field")
		}
	}

	res := ApplyResult{Applied: p.applied, Rejected: p.rejected}
	if len(p.applied) == 0 {
		return res, nil
	}
	s.current.Store(&next)
	if !next.Camera.SameDevice(prev.Camera) {
		res.CameraChanged = true
		s.RequestRenegotiation()
	}
	return res, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// patcher decodes patch fields into a candidate snapshot and records the
// outcome of each.
type patcher struct {
	applied  []string
	rejected []FieldError
}

func (p *patcher) reject(field, reason string) {
	p.rejected = append(p.rejected, FieldError{Field: field, Reason: reason})
}

func (p *patcher) object(field string, raw json.RawMessage) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		p.reject(field, "must be an object")
		return nil, false
	}
	return obj, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (p *patcher) floatField(field string, raw json.RawMessage, dst *float64, check func(float64) error) {
	var v float64
	if isNull(raw) {
		p.reject(field, "must be a number")
		return
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		p.reject(field, "must be a number")
		return
	}
	if err := check(v); err != nil {
		p.reject(field, err.Error())
		return
	}
	*dst = v
	p.applied = append(p.applied, field)
}

func (p *patcher) intField(field string, raw json.RawMessage, dst *int, check func(int) error) {
	var v int
	if isNull(raw) {
		p.reject(field, "must be an integer")
		return
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		p.reject(field, "must be an integer")
		return
	}
	if err := check(v); err != nil {
		p.reject(field, err.Error())
		return
	}
	*dst = v
	p.applied = append(p.applied, field)
}

func (p *patcher) stringField(field string, raw json.RawMessage, dst *string, check func(string) error) {
	var v string
	if isNull(raw) {
		p.reject(field, "must be a string")
		return
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		p.reject(field, "must be a string")
		return
	}
	if err := check(v); err != nil {
		p.reject(field, err.Error())
		return
	}
	*dst = v
	p.applied = append(p.applied, field)
}

func (p *patcher) tier(prefix string, raw json.RawMessage, t *Tier) {
	fields, ok := p.object(prefix, raw)
	if !ok {
		return
	}
	for _, key := range sortedKeys(fields) {
		field := prefix + "." + key
		raw := fields[key]
		switch key {
		case "ear":
			p.floatField(field, raw, &t.EAR, checkEAR)
		case "mar":
			p.floatField(field, raw, &t.MAR, checkMAR)
		case "pitch":
			p.floatField(field, raw, &t.Pitch, checkPitch)
		case "fusion":
			p.floatField(field, raw, &t.Fusion, checkFusion)
		case "consecFrames":
			p.intField(field, raw, &t.ConsecFrames, checkConsec)
		default:
			p.reject(field, "unknown field")
		}
	}
}

func (p *patcher) weights(raw json.RawMessage, w *Weights) {
	fields, ok := p.object("weights", raw)
	if !ok {
		return
	}
	for _, key := range sortedKeys(fields) {
		field := "weights." + key
		switch key {
		case "w_ear":
			p.floatField(field, fields[key], &w.EAR, checkWeight)
		case "w_mar":
			p.floatField(field, fields[key], &w.MAR, checkWeight)
		case "w_pose":
			p.floatField(field, fields[key], &w.Pose, checkWeight)
		default:
			p.reject(field, "unknown field")
		}
	}
}

func (p *patcher) camera(raw json.RawMessage, c *Camera) {
	fields, ok := p.object("camera", raw)
	if !ok {
		return
	}
	for _, key := range sortedKeys(fields) {
		field := "camera." + key
		switch key {
		case "index":
			p.intField(field, fields[key], &c.Index, checkIndex)
		case "width":
			p.intField(field, fields[key], &c.Width, checkDimension)
		case "height":
			p.intField(field, fields[key], &c.Height, checkDimension)
		case "fps":
			p.floatField(field, fields[key], &c.FPS, checkFPS)
		case "codec":
			p.stringField(field, fields[key], &c.Codec, checkCodec)
		case "orientation":
			p.stringField(field, fields[key], &c.Orientation, checkOrientation)
		default:
			p.reject(field, "unknown field")
		}
	}
}

// String renders the result for logs.
func (r ApplyResult) String() string {
	return fmt.Sprintf("applied=%v rejected=%d cameraChanged=%v", r.Applied, len(r.Rejected), r.CameraChanged)
}

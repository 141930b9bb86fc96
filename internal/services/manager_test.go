package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"somnoalert/internal/config"
	"somnoalert/internal/landmarks"
	"somnoalert/internal/logger"
	"somnoalert/internal/models"
	"somnoalert/internal/services/alarm"
	"somnoalert/internal/services/camera"
	"somnoalert/internal/services/detectors"
	"somnoalert/internal/services/settings"
	"somnoalert/internal/services/stats"
	"somnoalert/internal/services/websocket"
	"somnoalert/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (s *sink) ID() string { return "sink" }

func (s *sink) Send(msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, append([]byte(nil), msg...))
	return nil
}

func (s *sink) Close() error { return nil }

// types returns the "type" field of every message received so far.
func (s *sink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.msgs))
	for _, m := range s.msgs {
		var head struct {
			Type  string `json:"type"`
			State string `json:"state"`
		}
		json.Unmarshal(m, &head)
		if head.State != "" {
			out = append(out, head.Type+":"+head.State)
			continue
		}
		out = append(out, head.Type)
	}
	return out
}

type actuatorLog struct{ calls []string }

func (a *actuatorLog) Activate() error   { a.calls = append(a.calls, "on"); return nil }
func (a *actuatorLog) Deactivate() error { a.calls = append(a.calls, "off"); return nil }
func (a *actuatorLog) Close() error      { return nil }

type recorderLog struct {
	metrics int
	events  []string
}

func (r *recorderLog) AddMetric(time.Time, models.MetricsMessage) { r.metrics++ }
func (r *recorderLog) AddEvent(e models.Event)                    { r.events = append(r.events, e.Type) }

type read struct {
	frame models.VideoFrame
	err   error
}

// fakeSource succeeds with the first entry of every candidate list.
type fakeSource struct {
	openErrs    []error
	opens       []camera.Candidates
	reads       []read
	nreads      int
	onRead      func(n int)
	onDrained   func()
	orientation string
	closed      bool
}

func (s *fakeSource) Open(_ context.Context, c camera.Candidates) (camera.Active, error) {
	s.opens = append(s.opens, c)
	if len(s.openErrs) > 0 {
		err := s.openErrs[0]
		s.openErrs = s.openErrs[1:]
		if err != nil {
			return camera.Active{}, err
		}
	}
	a := camera.Active{Index: c.Indices[0]}
	if len(c.Codecs) > 0 {
		a.Codec = c.Codecs[0]
	}
	if len(c.Resolutions) > 0 {
		a.Width, a.Height = c.Resolutions[0].Width, c.Resolutions[0].Height
	}
	if len(c.FPS) > 0 {
		a.FPS = c.FPS[0]
	}
	return a, nil
}

func (s *fakeSource) Read() (models.VideoFrame, error) {
	s.nreads++
	if s.onRead != nil {
		s.onRead(s.nreads)
	}
	if len(s.reads) == 0 {
		if s.onDrained != nil {
			s.onDrained()
		}
		return models.VideoFrame{}, camera.ErrReadFailed
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	return r.frame, r.err
}

func (s *fakeSource) SetOrientation(o string) { s.orientation = o }

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeExtractor struct {
	failSeq map[int64]bool
}

func (e *fakeExtractor) Extract(_ context.Context, vf models.VideoFrame) (*landmarks.Frame, error) {
	if e.failSeq[vf.Sequence] {
		return nil, errors.New("sidecar down")
	}
	return testutil.NeutralFrame(), nil
}

func (e *fakeExtractor) Close() error { return nil }

func frame(seq int64) read {
	return read{frame: models.VideoFrame{Sequence: seq, Width: testutil.Width, Height: testutil.Height, CapturedAt: testutil.At(float64(seq) * 0.1)}}
}

type rig struct {
	manager  *Manager
	store    *settings.Store
	source   *fakeSource
	sink     *sink
	actuator *actuatorLog
	recorder *recorderLog
	metrics  *stats.Metrics
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	log := logger.NewDiscard()
	r := &rig{
		store:    settings.NewStore(settings.Defaults()),
		source:   &fakeSource{},
		sink:     &sink{},
		actuator: &actuatorLog{},
		recorder: &recorderLog{},
		metrics:  stats.NewMetrics(),
	}
	hub := websocket.NewHubService(log, r.metrics)
	require.NoError(t, hub.Register(r.sink))
	r.manager = NewManager(opts, Dependencies{
		Store:     r.store,
		Source:    r.source,
		Extractor: &fakeExtractor{},
		Alarm:     alarm.NewController(r.actuator, log),
		Hub:       hub,
		Recorder:  r.recorder,
		Metrics:   r.metrics,
		Logger:    log,
	})
	r.manager.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	r.manager.now = func() time.Time { return testutil.Epoch }
	return r
}

func defaultOptions() Options {
	opts, err := OptionsFrom(config.Load())
	if err != nil {
		panic(err)
	}
	return opts
}

func TestStepFramePublishesMetricsThenEvents(t *testing.T) {
	r := newRig(t, defaultOptions())
	m := r.manager

	out := m.StepFrame(testutil.At(0), testutil.NeutralFrame())
	assert.Equal(t, "normal", out.Metrics.DrowsinessLevel)
	assert.False(t, out.Metrics.IsDrowsy)
	require.NotNil(t, out.Metrics.FusedScore)

	for i := 1; i <= 26; i++ {
		out = m.StepFrame(testutil.At(float64(i)*0.1), testutil.ClosedEyes(testutil.NeutralFrame()))
	}
	assert.True(t, out.Metrics.IsDrowsy)
	assert.Equal(t, "drowsy", out.Metrics.DrowsinessLevel)
	assert.Equal(t, 26, out.Metrics.ClosedFrames)

	before := len(r.sink.types())
	out = m.StepFrame(testutil.At(2.7), testutil.NeutralFrame())
	assert.False(t, out.Metrics.IsDrowsy)
	assert.Equal(t, 0, out.Metrics.ClosedFrames)

	got := r.sink.types()[before:]
	assert.Equal(t, []string{
		models.MessageMetrics,
		models.EventEyeBlink,
		models.EventMicroSleep,
		models.EventFrameOverlay,
	}, got)

	assert.Equal(t, []string{"on", "off"}, r.actuator.calls)
	assert.Equal(t, 28, r.recorder.metrics)
	assert.Equal(t, int64(28), r.metrics.GetTotalFrames())
	assert.Contains(t, r.recorder.events, models.EventMicroSleep)
}

func TestStepFrameWithoutFace(t *testing.T) {
	r := newRig(t, defaultOptions())
	out := r.manager.StepFrame(testutil.At(0), testutil.NoFace())
	assert.False(t, out.Metrics.FaceDetected)
	assert.Nil(t, out.Metrics.FusedScore)
	assert.Nil(t, out.Metrics.EAR)
	assert.Empty(t, out.Events)
	assert.Equal(t, []string{"no face detected"}, out.Metrics.Reason)

	raw, err := json.Marshal(out.Metrics)
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &wire))
	assert.Contains(t, wire, "ear")
	assert.Nil(t, wire["ear"])
	assert.Nil(t, wire["fusedScore"])
	assert.Equal(t, false, wire["faceDetected"])
	assert.Contains(t, wire["thresholds"], "drowsy")
}

func TestRunRetriesUntilCameraAppears(t *testing.T) {
	r := newRig(t, defaultOptions())
	r.source.openErrs = []error{camera.ErrNoCamera, nil}
	r.source.reads = []read{frame(1), frame(2), frame(3)}
	r.manager.extractor = &fakeExtractor{failSeq: map[int64]bool{2: true}}

	ctx, cancel := context.WithCancel(context.Background())
	r.source.onDrained = cancel
	require.NoError(t, r.manager.Run(ctx))

	assert.Equal(t, []string{
		"camera_status:renegotiating",
		"camera_status:no_camera",
		"camera_status:renegotiating",
		"camera_status:active",
		models.MessageMetrics, models.EventFrameOverlay,
		models.MessageMetrics,
		models.MessageMetrics, models.EventFrameOverlay,
	}, r.sink.types())

	snap := r.metrics.Snapshot()
	assert.Equal(t, int64(3), snap["frames"])
	assert.Equal(t, int64(1), snap["extract_errors"])
	assert.Equal(t, int64(1), snap["no_face_frames"])
	assert.Equal(t, int64(0), snap["renegotiations"])
	assert.True(t, r.source.closed)
	assert.Equal(t, settings.OrientationNone, r.source.orientation)
}

func TestRenegotiationOrdering(t *testing.T) {
	opts := defaultOptions()
	opts.Candidates = camera.Candidates{
		Indices:     []int{3, 0, 1, 2},
		Codecs:      []string{"H264", "MJPG", "YUYV"},
		Resolutions: []camera.Resolution{{Width: 1920, Height: 1080}, {Width: 1280, Height: 720}, {Width: 640, Height: 480}},
		FPS:         []float64{60, 30, 15},
	}
	r := newRig(t, opts)
	r.source.reads = []read{frame(1), frame(2), {err: camera.ErrDeviceLost}, frame(4)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.source.onRead = func(n int) {
		if n == 1 {
			res, err := r.store.Apply([]byte(`{"camera":{"index":2,"codec":"YUYV","width":1280,"height":720,"fps":15}}`))
			require.NoError(t, err)
			require.True(t, res.CameraChanged)
		}
	}
	r.source.onDrained = cancel
	require.NoError(t, r.manager.Run(ctx))

	require.Len(t, r.source.opens, 3)

	startup := r.source.opens[0]
	assert.Equal(t, []int{0, 3, 1, 2}, startup.Indices)
	assert.Equal(t, []string{"MJPG", "H264", "YUYV"}, startup.Codecs)
	assert.Equal(t, []camera.Resolution{{Width: 640, Height: 480}, {Width: 1920, Height: 1080}, {Width: 1280, Height: 720}}, startup.Resolutions)
	assert.Equal(t, []float64{30, 60, 15}, startup.FPS)

	// Requested settings first, previous working configuration second.
	change := r.source.opens[1]
	assert.Equal(t, []int{2, 0, 3, 1}, change.Indices)
	assert.Equal(t, []string{"YUYV", "MJPG", "H264"}, change.Codecs)
	assert.Equal(t, []camera.Resolution{{Width: 1280, Height: 720}, {Width: 640, Height: 480}, {Width: 1920, Height: 1080}}, change.Resolutions)
	assert.Equal(t, []float64{15, 30, 60}, change.FPS)

	// After a loss only the last working configuration is preferred.
	lost := r.source.opens[2]
	assert.Equal(t, []int{2, 3, 0, 1}, lost.Indices)
	assert.Equal(t, []string{"YUYV", "H264", "MJPG"}, lost.Codecs)
	assert.Equal(t, []camera.Resolution{{Width: 1280, Height: 720}, {Width: 1920, Height: 1080}, {Width: 640, Height: 480}}, lost.Resolutions)
	assert.Equal(t, []float64{15, 60, 30}, lost.FPS)

	assert.Equal(t, int64(2), r.metrics.GetRenegotiations())
}

func TestCameraChangeDuringDeviceLoss(t *testing.T) {
	opts := defaultOptions()
	opts.Candidates = camera.Candidates{
		Indices:     []int{0, 1},
		Codecs:      []string{"MJPG"},
		Resolutions: []camera.Resolution{{Width: 640, Height: 480}},
		FPS:         []float64{30},
	}
	r := newRig(t, opts)
	r.source.reads = []read{frame(1), {err: camera.ErrDeviceLost}, frame(3)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.source.onRead = func(n int) {
		if n == 2 {
			res, err := r.store.Apply([]byte(`{"camera":{"index":2}}`))
			require.NoError(t, err)
			require.True(t, res.CameraChanged)
		}
	}
	r.source.onDrained = cancel
	require.NoError(t, r.manager.Run(ctx))

	require.Len(t, r.source.opens, 2)
	assert.Equal(t, []int{2, 0, 1}, r.source.opens[1].Indices)
	assert.Equal(t, int64(1), r.metrics.GetRenegotiations())
	select {
	case <-r.store.Renegotiate():
		t.Fatal("renegotiation signal left pending")
	default:
	}
}

func TestStopEndsRun(t *testing.T) {
	r := newRig(t, defaultOptions())
	r.source.reads = []read{frame(1), frame(2), frame(3), frame(4)}
	r.source.onRead = func(n int) {
		if n == 2 {
			r.manager.Stop()
		}
	}
	require.NoError(t, r.manager.Run(context.Background()))
	assert.Equal(t, 2, r.source.nreads)
	assert.True(t, r.source.closed)
}

type brokenDetector struct{}

func (brokenDetector) Name() string                { return "broken" }
func (brokenDetector) Ready(*landmarks.Frame) bool { return true }
func (brokenDetector) Update(time.Time, *landmarks.Frame) []models.Event {
	panic("index out of range")
}

func TestDetectorFaultsAreCounted(t *testing.T) {
	r := newRig(t, defaultOptions())
	log := logger.NewDiscard()
	r.manager.usePipeline(detectors.NewPipelineWith(log,
		brokenDetector{},
		detectors.NewPitch(detectors.DefaultPitchParams()),
	))

	r.manager.StepFrame(testutil.At(0), testutil.NeutralFrame())
	out := r.manager.StepFrame(testutil.At(0.1), testutil.NeutralFrame())
	assert.Equal(t, int64(2), r.metrics.GetDetectorFaults())
	require.Len(t, out.Events, 1, "the healthy detector still reports")
	assert.Equal(t, models.EventFrameOverlay, out.Events[0].Type)
	assert.Equal(t, "normal", out.Metrics.DrowsinessLevel)
}

func TestOptionsFrom(t *testing.T) {
	t.Setenv("CAMERA_RESOLUTIONS", "800x600,bogus")
	_, err := OptionsFrom(config.Load())
	assert.Error(t, err)

	t.Setenv("CAMERA_RESOLUTIONS", "800x600")
	t.Setenv("YAWN_HOLD_S", "2.5")
	t.Setenv("LOOP_INTERVAL_MS", "5")
	opts, err := OptionsFrom(config.Load())
	require.NoError(t, err)
	assert.Equal(t, []camera.Resolution{{Width: 800, Height: 600}}, opts.Candidates.Resolutions)
	assert.Equal(t, 2500*time.Millisecond, opts.Detectors.Yawn.Hold)
	assert.Equal(t, 5*time.Millisecond, opts.LoopInterval)
	assert.Equal(t, 2*time.Second, opts.Detectors.Blink.Microsleep)
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"somnoalert/internal/backoff"
	"somnoalert/internal/config"
	"somnoalert/internal/landmarks"
	"somnoalert/internal/logger"
	"somnoalert/internal/models"
	"somnoalert/internal/services/alarm"
	"somnoalert/internal/services/camera"
	"somnoalert/internal/services/detectors"
	"somnoalert/internal/services/fusion"
	"somnoalert/internal/services/geometry"
	"somnoalert/internal/services/settings"
	"somnoalert/internal/services/stats"
	"somnoalert/internal/services/websocket"
)

// FrameSource is a negotiated camera.
type FrameSource interface {
	// Open releases any current device and negotiates a new one.
	Open(ctx context.Context, c camera.Candidates) (camera.Active, error)
	// Read returns camera.ErrReadFailed for a transient failure and
	// camera.ErrDeviceLost once the device has been released.
	Read() (models.VideoFrame, error)
	SetOrientation(o string)
	Close() error
}

// Recorder receives every published record for persistence. It must not
// block.
type Recorder interface {
	AddMetric(at time.Time, msg models.MetricsMessage)
	AddEvent(e models.Event)
}

// Options are the loop timings and the camera search space.
type Options struct {
	Candidates      camera.Candidates
	NoCameraBackoff time.Duration
	ReadRetryDelay  time.Duration
	LoopInterval    time.Duration
	NoFaceReset     int
	Detectors       detectors.Params
}

// OptionsFrom derives the loop options from the process configuration.
func OptionsFrom(cfg *config.Config) (Options, error) {
	candidates, err := camera.NewCandidates(cfg.CameraIndices, cfg.CameraCodecs, cfg.CameraResolutions, cfg.CameraFPS)
	if err != nil {
		return Options{}, fmt.Errorf("camera candidates: %w", err)
	}
	return Options{
		Candidates:      candidates,
		NoCameraBackoff: time.Duration(cfg.NoCameraBackoffMs) * time.Millisecond,
		ReadRetryDelay:  10 * time.Millisecond,
		LoopInterval:    time.Duration(cfg.LoopIntervalMs) * time.Millisecond,
		NoFaceReset:     cfg.NoFaceResetFrames,
		Detectors: detectors.Params{
			Blink: detectors.BlinkParams{
				Microsleep:   seconds(cfg.MicrosleepSeconds),
				Window:       seconds(cfg.BlinkWindowSeconds),
				ClosedPixels: cfg.ClosedEyePixels,
			},
			Yawn: detectors.YawnParams{
				Hold:   seconds(cfg.YawnHoldSeconds),
				Window: seconds(cfg.YawnWindowSeconds),
			},
			EyeRub: detectors.EyeRubParams{
				Distance: cfg.RubDistancePixels,
				Hold:     seconds(cfg.RubHoldSeconds),
				Window:   seconds(cfg.RubWindowSeconds),
			},
			Pitch: detectors.PitchParams{
				Hold:   seconds(cfg.PitchHoldSeconds),
				Window: seconds(cfg.PitchWindowSeconds),
				Ratio:  cfg.PitchRatioThreshold,
			},
		},
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Dependencies are the collaborators of the Manager. Source and Extractor
// are only needed by Run; Hub, Alarm and Recorder may be nil.
type Dependencies struct {
	Store     *settings.Store
	Source    FrameSource
	Extractor landmarks.Extractor
	Alarm     *alarm.Controller
	Hub       *websocket.HubService
	Recorder  Recorder
	Metrics   *stats.Metrics
	Logger    *logger.Logger
}

// Output is what one pipeline step published.
type Output struct {
	Metrics models.MetricsMessage
	Events  []models.Event
}

// Why the camera is being (re)negotiated.
type negotiation int

const (
	negotiateNone negotiation = iota
	negotiateStartup
	negotiateConfig
	negotiateDeviceLost
)

// Manager runs the processing loop: capture, landmarks, geometry,
// detectors, fusion, alarm, broadcast and storage. All pipeline state is
// owned by the goroutine in Run; StepFrame must not be called concurrently
// with it.
type Manager struct {
	opts      Options
	store     *settings.Store
	source    FrameSource
	extractor landmarks.Extractor
	pipeline  *detectors.Pipeline
	engine    *fusion.Engine
	alarm     *alarm.Controller
	hub       *websocket.HubService
	recorder  Recorder
	metrics   *stats.Metrics
	logger    *logger.Logger

	sleep          func(context.Context, time.Duration) error
	now            func() time.Time
	stopped        atomic.Bool
	lastGood       *camera.Active
	extractFailing bool
}

func NewManager(opts Options, deps Dependencies) *Manager {
	m := &Manager{
		opts:      opts,
		store:     deps.Store,
		source:    deps.Source,
		extractor: deps.Extractor,
		engine:    fusion.NewEngine(opts.NoFaceReset),
		alarm:     deps.Alarm,
		hub:       deps.Hub,
		recorder:  deps.Recorder,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		sleep:     backoff.Sleep,
		now:       time.Now,
	}
	if m.metrics == nil {
		m.metrics = stats.NewMetrics()
	}
	m.usePipeline(detectors.NewPipeline(opts.Detectors, deps.Logger))
	return m
}

func (m *Manager) usePipeline(p *detectors.Pipeline) {
	p.OnFault(func(string) { m.metrics.IncrementDetectorFaults() })
	m.pipeline = p
}

// Stop asks Run to return after the current iteration.
func (m *Manager) Stop() {
	m.stopped.Store(true)
}

func (m *Manager) stopping(ctx context.Context) bool {
	return ctx.Err() != nil || m.stopped.Load()
}

// Run loops until ctx is cancelled or Stop is called. Nothing inside the
// loop is fatal: camera, extractor and detector failures are logged,
// counted and retried.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("Manager started, detectors: %v", m.pipeline.Names())
	defer m.shutdown()

	pending := negotiateStartup
	for !m.stopping(ctx) {
		select {
		case <-m.store.Renegotiate():
			// The config ordering still keeps the last working camera second.
			pending = negotiateConfig
		default:
		}

		if pending != negotiateNone {
			if err := m.negotiate(ctx, pending); err != nil {
				m.sleep(ctx, m.opts.NoCameraBackoff)
				continue
			}
			pending = negotiateNone
		}

		m.source.SetOrientation(m.store.Get().Camera.Orientation)
		frame, err := m.source.Read()
		if err != nil {
			m.metrics.IncrementCaptureFailures()
			if errors.Is(err, camera.ErrDeviceLost) {
				m.logger.Warning("Camera lost, renegotiating")
				pending = negotiateDeviceLost
				continue
			}
			m.sleep(ctx, m.opts.ReadRetryDelay)
			continue
		}

		m.processFrame(ctx, frame)
		m.sleep(ctx, m.opts.LoopInterval)
	}
	m.logger.Info("Manager stopped")
	return nil
}

// candidatesFor orders the search space for a negotiation. On startup the
// configured camera goes first. After a configuration change the requested
// settings go first and the previous working configuration second. After
// a device loss only the previous working configuration is preferred.
func (m *Manager) candidatesFor(why negotiation, cam settings.Camera) camera.Candidates {
	requested := camera.Request{Index: cam.Index, Codec: cam.Codec, Width: cam.Width, Height: cam.Height, FPS: cam.FPS}
	c := m.opts.Candidates
	switch why {
	case negotiateConfig:
		if m.lastGood != nil {
			c = c.Prefer(camera.RequestFrom(*m.lastGood))
		}
		c = c.Prefer(requested)
	case negotiateDeviceLost:
		if m.lastGood != nil {
			c = c.Prefer(camera.RequestFrom(*m.lastGood))
		} else {
			c = c.Prefer(requested)
		}
	default:
		c = c.Prefer(requested)
	}
	return c
}

func (m *Manager) negotiate(ctx context.Context, why negotiation) error {
	cfg := m.store.Get()
	candidates := m.candidatesFor(why, cfg.Camera)
	if why != negotiateStartup {
		m.metrics.IncrementRenegotiations()
	}
	m.publish(models.NewCameraStatus(m.now(), models.CameraRenegotiating, nil, nil))

	active, err := m.source.Open(ctx, candidates)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Warning("Camera negotiation failed (%s): %v", candidates, err)
			m.publish(models.NewCameraStatus(m.now(), models.CameraNoCamera, nil, err))
		}
		return err
	}
	m.lastGood = &active
	m.publish(models.NewCameraStatus(m.now(), models.CameraActive, active, nil))
	return nil
}

func (m *Manager) processFrame(ctx context.Context, vf models.VideoFrame) {
	lm, err := m.extractor.Extract(ctx, vf)
	switch {
	case err == nil, errors.Is(err, landmarks.ErrNoFace):
		m.extractFailing = false
	default:
		m.metrics.IncrementExtractErrors()
		if !m.extractFailing {
			m.logger.Warning("Landmark extraction failed: %v", err)
		}
		m.extractFailing = true
	}
	if lm == nil {
		lm = &landmarks.Frame{Width: vf.Width, Height: vf.Height}
	}
	at := vf.CapturedAt
	if at.IsZero() {
		at = m.now()
	}
	m.StepFrame(at, lm)
}

// StepFrame runs one frame through geometry, detectors and fusion,
// drives the alarm and publishes the metrics message followed by the
// frame's events.
func (m *Manager) StepFrame(now time.Time, f *landmarks.Frame) Output {
	cfg := m.store.Get()

	sample := geometry.Extract(f)
	events := m.pipeline.Step(now, f)
	res := m.engine.Step(sample, f.HasFace(), cfg)
	if m.alarm != nil {
		m.alarm.Set(res.Alarm)
	}

	msg := NewMetricsMessage(now, sample, res, cfg)

	m.metrics.IncrementFrames(now)
	if !res.FaceDetected {
		m.metrics.IncrementNoFace()
	}
	m.metrics.AddEvents(len(events))
	m.metrics.SetState(string(res.Stage), res.Alarm)

	m.publish(msg)
	for _, e := range events {
		m.publish(e)
	}
	if m.recorder != nil {
		m.recorder.AddMetric(now, msg)
		for _, e := range events {
			m.recorder.AddEvent(e)
		}
	}
	return Output{Metrics: msg, Events: events}
}

// NewMetricsMessage builds the per-frame snapshot.
func NewMetricsMessage(now time.Time, s geometry.Sample, res fusion.Result, cfg settings.Configuration) models.MetricsMessage {
	msg := models.MetricsMessage{
		Type:            models.MessageMetrics,
		TS:              models.UnixSeconds(now),
		EAR:             s.EAR,
		MAR:             s.MAR,
		Yaw:             s.Yaw,
		Pitch:           s.Pitch,
		Roll:            s.Roll,
		ClosedFrames:    res.ClosedFrames,
		Thresholds:      cfg.Thresholds,
		Weights:         cfg.Weights,
		IsDrowsy:        res.Alarm,
		DrowsinessLevel: string(res.Stage),
		StageReasons:    res.StageReasons,
		Scores:          res.Scores,
		Reason:          res.Reasons,
		FaceDetected:    res.FaceDetected,
	}
	if res.FaceDetected || res.FusedScore != 0 {
		fused := res.FusedScore
		msg.FusedScore = &fused
	}
	return msg
}

func (m *Manager) publish(v interface{}) {
	if m.hub == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Error("Error encoding message: %v", err)
		return
	}
	m.hub.Broadcast(payload)
}

func (m *Manager) shutdown() {
	if m.source != nil {
		if err := m.source.Close(); err != nil {
			m.logger.Warning("Error releasing camera: %v", err)
		}
	}
	if m.alarm != nil {
		m.alarm.Set(false)
	}
}

func (m *Manager) GetWebsocketService() *websocket.HubService {
	return m.hub
}

func (m *Manager) GetMetrics() *stats.Metrics {
	return m.metrics
}

func (m *Manager) GetStore() *settings.Store {
	return m.store
}

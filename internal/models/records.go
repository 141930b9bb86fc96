package models

import (
	"encoding/json"
	"time"
)

// Device identifies the unit running the pipeline.
type Device struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Session is one run of the processing loop on a device.
type Session struct {
	ID        int64      `json:"id"`
	DeviceID  int64      `json:"device_id"`
	Token     string     `json:"token"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// MetricRecord is the persisted form of a MetricsMessage.
type MetricRecord struct {
	SessionID    int64
	Timestamp    time.Time
	EAR          *float64
	MAR          *float64
	Yaw          *float64
	Pitch        *float64
	Roll         *float64
	FusedScore   *float64
	ClosedFrames int
	IsDrowsy     bool
	Stage        string
	Reason       []string
}

// EventRecord is the persisted form of a detector Event.
type EventRecord struct {
	SessionID int64
	Timestamp time.Time
	Type      string
	Duration  *float64
	Hand      string
	Payload   json.RawMessage
}

// WindowReport is the persisted form of a report_window Event.
type WindowReport struct {
	SessionID int64
	Timestamp time.Time
	Detector  string
	WindowS   float64
	Counts    json.RawMessage
	Durations json.RawMessage
}

// DeviceConfig is the persisted snapshot of the active thresholds.
type DeviceConfig struct {
	DeviceID  int64
	UpdatedAt time.Time
	Config    json.RawMessage
}

// MetricRecordFrom converts a broadcast snapshot into a storage record.
func MetricRecordFrom(sessionID int64, at time.Time, m MetricsMessage) MetricRecord {
	return MetricRecord{
		SessionID:    sessionID,
		Timestamp:    at,
		EAR:          m.EAR,
		MAR:          m.MAR,
		Yaw:          m.Yaw,
		Pitch:        m.Pitch,
		Roll:         m.Roll,
		FusedScore:   m.FusedScore,
		ClosedFrames: m.ClosedFrames,
		IsDrowsy:     m.IsDrowsy,
		Stage:        m.DrowsinessLevel,
		Reason:       m.Reason,
	}
}

// EventRecordFrom converts an event into a storage record carrying the full
// JSON payload.
func EventRecordFrom(sessionID int64, e Event) (EventRecord, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return EventRecord{}, err
	}
	return EventRecord{
		SessionID: sessionID,
		Timestamp: e.Timestamp,
		Type:      e.Type,
		Duration:  e.Duration,
		Hand:      e.Hand,
		Payload:   payload,
	}, nil
}

// WindowReportFrom converts a report_window event into a storage record.
func WindowReportFrom(sessionID int64, e Event) (WindowReport, error) {
	counts, err := json.Marshal(e.Counts)
	if err != nil {
		return WindowReport{}, err
	}
	durations, err := json.Marshal(e.Durations)
	if err != nil {
		return WindowReport{}, err
	}
	var window float64
	if e.WindowS != nil {
		window = *e.WindowS
	}
	return WindowReport{
		SessionID: sessionID,
		Timestamp: e.Timestamp,
		Detector:  e.Detector,
		WindowS:   window,
		Counts:    counts,
		Durations: durations,
	}, nil
}

package models

import "time"

// Message types that are not detector events.
const (
	MessageMetrics      = "metrics"
	MessageCameraStatus = "camera_status"
)

// Camera status states.
const (
	CameraActive        = "active"
	CameraNoCamera      = "no_camera"
	CameraRenegotiating = "renegotiating"
)

// Scores are the normalized per-signal severities in [0,1].
type Scores struct {
	EAR  float64 `json:"ear"`
	MAR  float64 `json:"mar"`
	Pose float64 `json:"pose"`
}

// MetricsMessage is the per-frame snapshot pushed to subscribers and the
// storage sink.
type MetricsMessage struct {
	Type            string      `json:"type"`
	TS              float64     `json:"ts"`
	EAR             *float64    `json:"ear"`
	MAR             *float64    `json:"mar"`
	Yaw             *float64    `json:"yaw"`
	Pitch           *float64    `json:"pitch"`
	Roll            *float64    `json:"roll"`
	ClosedFrames    int         `json:"closedFrames"`
	Thresholds      interface{} `json:"thresholds"`
	Weights         interface{} `json:"weights"`
	IsDrowsy        bool        `json:"isDrowsy"`
	DrowsinessLevel string      `json:"drowsinessLevel"`
	StageReasons    []string    `json:"stageReasons"`
	FusedScore      *float64    `json:"fusedScore"`
	Scores          Scores      `json:"scores"`
	Reason          []string    `json:"reason"`
	FaceDetected    bool        `json:"faceDetected"`
}

// CameraStatus reports negotiation state to subscribers.
type CameraStatus struct {
	Type   string      `json:"type"`
	TS     float64     `json:"ts"`
	State  string      `json:"state"`
	Camera interface{} `json:"camera,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// NewCameraStatus builds a camera_status message stamped with now.
func NewCameraStatus(now time.Time, state string, camera interface{}, err error) CameraStatus {
	st := CameraStatus{
		Type:   MessageCameraStatus,
		TS:     UnixSeconds(now),
		State:  state,
		Camera: camera,
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}

package landmarks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"somnoalert/internal/models"

	"github.com/gorilla/websocket"
)

// ErrNoFace is returned when the extractor found no face in the frame.
var ErrNoFace = errors.New("landmarks: no face detected")

// Extractor turns a video frame into named landmark points.
type Extractor interface {
	Extract(ctx context.Context, frame models.VideoFrame) (*Frame, error)
	Close() error
}

// extractorReply is the JSON document the sidecar answers with.
type extractorReply struct {
	Face  *faceReply `json:"face"`
	Hands []Hand     `json:"hands"`
	Error string     `json:"error,omitempty"`
}

type faceReply struct {
	Eyes  *Eyes  `json:"eyes"`
	Mouth *Mouth `json:"mouth"`
	Head  *Head  `json:"head"`
}

// WSExtractor talks to a landmark sidecar over a websocket. Each call sends
// the JPEG bytes as one binary message and reads one JSON text reply.
// The connection is dialed lazily and dropped after any failure, so the next
// call redials.
type WSExtractor struct {
	url     string
	timeout time.Duration
	dialer  *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSExtractor creates a client for the sidecar at url.
func NewWSExtractor(url string, timeout time.Duration) *WSExtractor {
	return &WSExtractor{
		url:     url,
		timeout: timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
			ReadBufferSize:   1 << 14,
			WriteBufferSize:  1 << 16,
		},
	}
}

// Extract sends frame to the sidecar and decodes the landmark reply.
func (e *WSExtractor) Extract(ctx context.Context, frame models.VideoFrame) (*Frame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		conn, _, err := e.dialer.DialContext(ctx, e.url, nil)
		if err != nil {
			return nil, fmt.Errorf("landmarks: dial %s: %w", e.url, err)
		}
		conn.SetReadLimit(1 << 20)
		e.conn = conn
	}

	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	e.conn.SetWriteDeadline(deadline)
	e.conn.SetReadDeadline(deadline)

	if err := e.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
		e.dropLocked()
		return nil, fmt.Errorf("landmarks: send frame: %w", err)
	}

	_, payload, err := e.conn.ReadMessage()
	if err != nil {
		e.dropLocked()
		return nil, fmt.Errorf("landmarks: read reply: %w", err)
	}

	return decodeReply(payload, frame.Width, frame.Height)
}

// Close closes the sidecar connection, if any.
func (e *WSExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	e.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := e.conn.Close()
	e.conn = nil
	return err
}

func (e *WSExtractor) dropLocked() {
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
}

// decodeReply parses a sidecar reply. A reply with neither face nor hands is
// ErrNoFace; hands without a face still produce a frame.
func decodeReply(payload []byte, width, height int) (*Frame, error) {
	var reply extractorReply
	if err := json.Unmarshal(payload, &reply); err != nil {
		return nil, fmt.Errorf("landmarks: decode reply: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("landmarks: extractor error: %s", reply.Error)
	}

	frame := &Frame{Width: width, Height: height, Hands: reply.Hands}
	if reply.Face != nil {
		frame.Eyes = reply.Face.Eyes
		frame.Mouth = reply.Face.Mouth
		frame.Head = reply.Face.Head
	}
	if !frame.HasFace() && !frame.HasHands() {
		return frame, ErrNoFace
	}
	return frame, nil
}

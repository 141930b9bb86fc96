// Package camera searches a space of capture devices and formats for one
// that actually delivers frames. It performs no I/O of its own: devices are
// reached through the Opener and Device interfaces.
package camera

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"somnoalert/internal/logger"
)

// ErrNoCamera is returned when every candidate combination failed.
var ErrNoCamera = errors.New("camera: no working camera found")

// ErrDeviceLost is returned by frame sources once reads have failed often
// enough that the device should be released and renegotiated.
var ErrDeviceLost = errors.New("camera: device lost")

// ErrReadFailed is a single transient read failure.
var ErrReadFailed = errors.New("camera: frame read failed")

// DefaultProbes is how many reads a combination gets before it is rejected.
const DefaultProbes = 3

// DefaultSettle is the delay between probe reads.
const DefaultSettle = 100 * time.Millisecond

// Resolution is a frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses "WIDTHxHEIGHT".
func ParseResolution(s string) (Resolution, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Resolution{}, fmt.Errorf("camera: invalid resolution %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("camera: invalid resolution %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("camera: invalid resolution %q", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

// Active is the configuration a negotiation settled on. Width and Height
// are the dimensions the device actually delivered.
type Active struct {
	Index  int     `json:"index"`
	Codec  string  `json:"codec"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`
}

func (a Active) String() string {
	return fmt.Sprintf("index=%d codec=%s %dx%d@%.0f", a.Index, a.Codec, a.Width, a.Height, a.FPS)
}

// Device is an opened capture device.
type Device interface {
	// Configure requests a codec, frame size and frame rate.
	Configure(codec string, res Resolution, fps float64) error
	// Probe reads one frame and reports its dimensions. ok is false when no
	// frame or an empty frame came back.
	Probe() (res Resolution, ok bool)
	// FPS reports the frame rate the driver settled on, 0 if unknown.
	FPS() float64
	Close() error
}

// Opener opens a device by index.
type Opener interface {
	Open(index int) (Device, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(index int) (Device, error)

func (f OpenerFunc) Open(index int) (Device, error) { return f(index) }

// Negotiator runs the search.
type Negotiator struct {
	Opener Opener
	Logger *logger.Logger
	Probes int
	Settle time.Duration
	// Sleep waits between probes; tests replace it.
	Sleep func(context.Context, time.Duration) error
}

// NewNegotiator returns a negotiator with the default probe count and
// settle delay.
func NewNegotiator(opener Opener, log *logger.Logger) *Negotiator {
	return &Negotiator{
		Opener: opener,
		Logger: log,
		Probes: DefaultProbes,
		Settle: DefaultSettle,
		Sleep:  sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Negotiate tries every combination in the order index, codec, resolution,
// fps and returns the first that yields a frame, together with the open
// device. Nothing is attempted after the first success. The device of a
// failed index is closed before the next index is opened.
func (n *Negotiator) Negotiate(ctx context.Context, c Candidates) (Active, Device, error) {
	c = c.withDefaults()
	for _, index := range c.Indices {
		if err := ctx.Err(); err != nil {
			return Active{}, nil, err
		}
		dev, err := n.Opener.Open(index)
		if err != nil {
			n.Logger.Warning("Camera %d: open failed: %v", index, err)
			continue
		}
		active, ok, err := n.search(ctx, dev, index, c)
		if ok {
			n.Logger.Info("Camera negotiated: %s", active)
			return active, dev, nil
		}
		dev.Close()
		if err != nil {
			return Active{}, nil, err
		}
	}
	return Active{}, nil, ErrNoCamera
}

func (n *Negotiator) search(ctx context.Context, dev Device, index int, c Candidates) (Active, bool, error) {
	for _, codec := range c.Codecs {
		for _, res := range c.Resolutions {
			for _, fps := range c.FPS {
				if err := ctx.Err(); err != nil {
					return Active{}, false, err
				}
				if err := dev.Configure(codec, res, fps); err != nil {
					n.Logger.Warning("Camera %d: configure %s %s@%.0f: %v", index, codec, res, fps, err)
					continue
				}
				got, ok, err := n.probe(ctx, dev)
				if err != nil {
					return Active{}, false, err
				}
				if !ok {
					continue
				}
				achieved := dev.FPS()
				if achieved <= 0 {
					achieved = fps
				}
				return Active{Index: index, Codec: codec, Width: got.Width, Height: got.Height, FPS: achieved}, true, nil
			}
		}
	}
	return Active{}, false, nil
}

func (n *Negotiator) probe(ctx context.Context, dev Device) (Resolution, bool, error) {
	probes := n.Probes
	if probes <= 0 {
		probes = DefaultProbes
	}
	wait := n.Sleep
	if wait == nil {
		wait = sleep
	}
	for i := 0; i < probes; i++ {
		if i > 0 {
			if err := wait(ctx, n.Settle); err != nil {
				return Resolution{}, false, err
			}
		}
		if res, ok := dev.Probe(); ok && res.Width > 0 && res.Height > 0 {
			return res, true, nil
		}
	}
	return Resolution{}, false, nil
}

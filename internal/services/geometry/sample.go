package geometry

import "somnoalert/internal/landmarks"

// Sample holds the scalar signals for one frame. A nil field means the
// region it comes from was absent, never that the signal was inactive.
type Sample struct {
	EAR   *float64 `json:"ear"`
	MAR   *float64 `json:"mar"`
	Yaw   *float64 `json:"yaw"`
	Pitch *float64 `json:"pitch"`
	Roll  *float64 `json:"roll"`
}

// Empty reports whether no signal could be measured.
func (s Sample) Empty() bool {
	return s.EAR == nil && s.MAR == nil && s.Yaw == nil && s.Pitch == nil && s.Roll == nil
}

// Extract computes every signal the frame has landmarks for.
func Extract(f *landmarks.Frame) Sample {
	var s Sample
	if f == nil {
		return s
	}
	if f.Eyes != nil {
		ear := EAR(*f.Eyes)
		s.EAR = &ear
	}
	if f.Mouth != nil {
		mar := MAR(*f.Mouth)
		s.MAR = &mar
	}
	if pose, ok := HeadPose(f); ok {
		s.Yaw, s.Pitch, s.Roll = &pose.Yaw, &pose.Pitch, &pose.Roll
	}
	return s
}

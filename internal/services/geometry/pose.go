package geometry

import (
	"math"
	"sort"

	"somnoalert/internal/landmarks"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Generic face model in millimetres, camera axes (x right, y down, z away
// from the camera), nose tip at the origin.
var faceModel = [6][3]float64{
	{0, 0, 0},         // nose tip
	{0, 330, 65},      // chin
	{-225, -170, 135}, // image-left eye outer corner
	{225, -170, 135},  // image-right eye outer corner
	{-150, 150, 125},  // image-left mouth corner
	{150, 150, 125},   // image-right mouth corner
}

// modelEyeSpan is the horizontal distance between the model's eye corners.
const modelEyeSpan = 450

// singularThreshold marks gimbal lock in the Euler decomposition.
const singularThreshold = 1e-6

// maxReprojection bounds the RMS reprojection error, as a fraction of the
// image eye span, for a solve to be accepted.
const maxReprojection = 0.25

// Pose is a head orientation in degrees.
type Pose struct {
	Yaw   float64
	Pitch float64
	Roll  float64
}

type camera struct {
	f, cx, cy float64
}

// posePoints orders the six image points to match faceModel. Eye and mouth
// corners are sorted by x so mirrored frames and either labelling work.
func posePoints(eyes landmarks.Eyes, m landmarks.Mouth, h landmarks.Head) [6]landmarks.Point {
	corners := []landmarks.Point{eyes.Left.Outer, eyes.Right.Outer}
	lips := []landmarks.Point{m.Left, m.Right}
	sort.Slice(corners, func(i, j int) bool { return corners[i].X < corners[j].X })
	sort.Slice(lips, func(i, j int) bool { return lips[i].X < lips[j].X })
	return [6]landmarks.Point{h.NoseTip, h.Chin, corners[0], corners[1], lips[0], lips[1]}
}

// HeadPose solves the six-point perspective pose of the face against the
// generic model with a pinhole camera (focal length = frame width, principal
// point = frame centre). ok is false when any needed region is missing or
// the solve does not converge.
func HeadPose(f *landmarks.Frame) (Pose, bool) {
	if f == nil || f.Eyes == nil || f.Mouth == nil || f.Head == nil || f.Width <= 0 || f.Height <= 0 {
		return Pose{}, false
	}
	cam := camera{f: float64(f.Width), cx: float64(f.Width) / 2, cy: float64(f.Height) / 2}
	pts := posePoints(*f.Eyes, *f.Mouth, *f.Head)
	return solvePose(cam, pts)
}

func solvePose(cam camera, pts [6]landmarks.Point) (Pose, bool) {
	span := pts[2].Dist(pts[3])
	if span < 1 {
		return Pose{}, false
	}

	// Translation is searched in units of the initial depth guess so every
	// parameter has a similar magnitude for the simplex.
	z0 := cam.f * modelEyeSpan / span
	x0 := (pts[0].X - cam.cx) * z0 / cam.f
	y0 := (pts[0].Y - cam.cy) * z0 / cam.f

	params := func(x []float64) ([3]float64, [3]float64) {
		return [3]float64{x[0], x[1], x[2]},
			[3]float64{x0 + x[3]*z0, y0 + x[4]*z0, z0 * (1 + x[5])}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			rvec, t := params(x)
			return reprojectionError(cam, Rodrigues(rvec), t, pts)
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: 6000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-9,
			Iterations: 300,
		},
	}
	res, err := optimize.Minimize(problem, make([]float64, 6), settings, &optimize.NelderMead{SimplexSize: 0.1})
	if err != nil || res == nil {
		return Pose{}, false
	}
	if math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return Pose{}, false
	}
	if rms := math.Sqrt(res.F / float64(len(pts))); rms > maxReprojection*span {
		return Pose{}, false
	}

	rvec, _ := params(res.X)
	p := EulerAngles(Rodrigues(rvec))
	if math.IsNaN(p.Yaw) || math.IsNaN(p.Pitch) || math.IsNaN(p.Roll) {
		return Pose{}, false
	}
	return p, true
}

// reprojectionError is the summed squared pixel distance between the
// projected model and the observed points.
func reprojectionError(cam camera, r *mat.Dense, t [3]float64, pts [6]landmarks.Point) float64 {
	var sum float64
	for i, m := range faceModel {
		u, v, ok := project(cam, r, t, m)
		if !ok {
			return math.MaxFloat64 / 16
		}
		du, dv := u-pts[i].X, v-pts[i].Y
		sum += du*du + dv*dv
	}
	return sum
}

// project maps a model point through rotation r and translation t onto the
// image plane. ok is false for points behind the camera.
func project(cam camera, r *mat.Dense, t [3]float64, p [3]float64) (u, v float64, ok bool) {
	var c [3]float64
	for row := 0; row < 3; row++ {
		c[row] = r.At(row, 0)*p[0] + r.At(row, 1)*p[1] + r.At(row, 2)*p[2] + t[row]
	}
	if c[2] <= 0 {
		return 0, 0, false
	}
	return cam.f*c[0]/c[2] + cam.cx, cam.f*c[1]/c[2] + cam.cy, true
}

// Rodrigues converts a rotation vector into a 3x3 rotation matrix.
func Rodrigues(rvec [3]float64) *mat.Dense {
	theta := math.Sqrt(rvec[0]*rvec[0] + rvec[1]*rvec[1] + rvec[2]*rvec[2])
	r := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta < 1e-12 {
		return r
	}
	kx, ky, kz := rvec[0]/theta, rvec[1]/theta, rvec[2]/theta
	k := mat.NewDense(3, 3, []float64{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	})
	var k2 mat.Dense
	k2.Mul(k, k)

	var sk mat.Dense
	sk.Scale(math.Sin(theta), k)
	k2.Scale(1-math.Cos(theta), &k2)

	r.Add(r, &sk)
	r.Add(r, &k2)
	return r
}

// EulerAngles decomposes a rotation matrix into degrees. Pitch is rotation
// about the x axis, yaw about y and roll about z. Near gimbal lock roll is
// forced to zero.
func EulerAngles(r mat.Matrix) Pose {
	sy := math.Hypot(r.At(0, 0), r.At(1, 0))
	var x, y, z float64
	if sy >= singularThreshold {
		x = math.Atan2(r.At(2, 1), r.At(2, 2))
		y = math.Atan2(-r.At(2, 0), sy)
		z = math.Atan2(r.At(1, 0), r.At(0, 0))
	} else {
		x = math.Atan2(-r.At(1, 2), r.At(1, 1))
		y = math.Atan2(-r.At(2, 0), sy)
		z = 0
	}
	return Pose{Yaw: degrees(y), Pitch: degrees(x), Roll: degrees(z)}
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

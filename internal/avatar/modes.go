// Package avatar maps the interaction state and playback level onto a
// particle cloud. Modes are pure functions of their inputs.
package avatar

import "math"

const (
	DefaultColor   = "#22d3ee"
	ListeningColor = "#ef4444"
	SpeakingColor  = "#ffffff"
	ThinkingColor  = "#fbbf24"
	SleepingColor  = "#4b5563"
	ComputingColor = "#10b981"
)

type Point struct {
	X, Y, Z float64
	Color   string
}

// Mode computes the target position of particle i of count at time t seconds.
// audioFactor is the playback level scaled so 50 maps to 1.
type Mode func(i, count int, t, audioFactor float64) Point

var golden = math.Pi * (1 + math.Sqrt(5))

// sphere places particle i on a fibonacci sphere of radius r.
func sphere(i, count int, r float64) (x, y, z float64) {
	phi := math.Acos(1 - 2*(float64(i)+0.5)/float64(count))
	theta := golden * float64(i)
	return r * math.Sin(phi) * math.Cos(theta), r * math.Sin(phi) * math.Sin(theta), r * math.Cos(phi)
}

// Idle is a gently breathing sphere.
func Idle(i, count int, t, _ float64) Point {
	x, y, z := sphere(i, count, 1.5+math.Sin(t+float64(i)*0.1)*0.1)
	return Point{X: x, Y: y, Z: z, Color: DefaultColor}
}

// Listening is a tight sphere spinning fast around Y.
func Listening(i, count int, t, _ float64) Point {
	x, y, z := sphere(i, count, 1.2)
	spin := t * 3
	return Point{
		X:     x*math.Cos(spin) - z*math.Sin(spin),
		Y:     y,
		Z:     x*math.Sin(spin) + z*math.Cos(spin),
		Color: ListeningColor,
	}
}

// Speaking expands with the audio level and shivers.
func Speaking(i, count int, t, audioFactor float64) Point {
	r := 1.5 + audioFactor*2 + jitter(i, t)*audioFactor*0.5
	x, y, z := sphere(i, count, r)
	return Point{X: x, Y: y, Z: z, Color: SpeakingColor}
}

// Thinking pulses with a per-particle ripple.
func Thinking(i, count int, t, _ float64) Point {
	x, y, z := sphere(i, count, 1.5)
	pulse := math.Sin(t*3)*0.2 + 1
	noise := math.Sin(t*5+float64(i)) * 0.15
	return Point{X: x*pulse + noise, Y: y*pulse + noise, Z: z*pulse + noise, Color: ThinkingColor}
}

// Sleeping scatters the cloud over the floor.
func Sleeping(i, _ int, t, _ float64) Point {
	angle := float64(i)*0.1 + t*0.1
	radius := 2 + jitter(i, 0) + 0.5
	return Point{
		X:     math.Cos(angle) * radius,
		Y:     -1.5 + math.Sin(t+float64(i))*0.1,
		Z:     math.Sin(angle) * radius,
		Color: SleepingColor,
	}
}

// Computing snaps particles onto a half-unit grid.
func Computing(i, _ int, t, _ float64) Point {
	snap := func(v float64) float64 { return math.Round(v*2) / 2 }
	fi := float64(i)
	return Point{
		X:     snap(math.Sin(fi) * 2.5),
		Y:     snap(math.Cos(fi*0.5+t) * 2.5),
		Z:     snap(math.Sin(fi*1.5) * 2.5),
		Color: ComputingColor,
	}
}

// jitter is a hash of (i, t) in [-0.5, 0.5).
func jitter(i int, t float64) float64 {
	x := uint64(i)*0x9E3779B97F4A7C15 ^ math.Float64bits(t)
	x ^= x >> 30
	x *= 0xBF58476D1CE4E5B9
	x ^= x >> 27
	x *= 0x94D049BB133111EB
	x ^= x >> 31
	return float64(x>>11)/(1<<53) - 0.5
}

package viewer

import (
	"errors"
	"math"
)

// Orbit limits.
const (
	MinDistance = 1.2
	MaxDistance = 4.0
	MinPolar    = math.Pi / 3.5
	MaxPolar    = math.Pi / 1.9
)

// Default camera.
const (
	CameraFOV  = 40.0
	CameraNear = 0.1
	CameraFar  = 100.0
)

// DefaultCameraPosition is the initial eye position.
var DefaultCameraPosition = V(0.6, 0.8, 2.2)

// ErrPanDisabled is returned by Pan; the orbit target is pinned to the origin.
var ErrPanDisabled = errors.New("viewer: panning is disabled")

// Camera is the camera state at a point in time.
type Camera struct {
	Position    Vec3    `json:"position"`
	Target      Vec3    `json:"target"`
	FOV         float64 `json:"fov"`
	Distance    float64 `json:"distance"`
	Polar       float64 `json:"polar"`
	Azimuth     float64 `json:"azimuth"`
	MinDistance float64 `json:"minDistance"`
	MaxDistance float64 `json:"maxDistance"`
	MinPolar    float64 `json:"minPolar"`
	MaxPolar    float64 `json:"maxPolar"`
}

// View returns the camera's view matrix.
func (c Camera) View() Mat4 {
	return LookAt(c.Position, c.Target, V(0, 1, 0))
}

// Projection returns the perspective matrix for an aspect ratio.
func (c Camera) Projection(aspect float64) Mat4 {
	if aspect <= 0 {
		aspect = 1
	}
	return Perspective(c.FOV, aspect, CameraNear, CameraFar)
}

// Controls orbits the camera around the origin in spherical coordinates.
type Controls struct {
	distance float64
	polar    float64
	azimuth  float64
}

// NewControls starts the orbit at position, clamped into range.
func NewControls(position Vec3) Controls {
	r := position.Len()
	c := Controls{distance: r}
	if r > 0 {
		c.polar = math.Acos(clamp(position.Y/r, -1, 1))
		c.azimuth = math.Atan2(position.X, position.Z)
	}
	c.distance = clamp(c.distance, MinDistance, MaxDistance)
	c.polar = clamp(c.polar, MinPolar, MaxPolar)
	return c
}

// Rotate adds to azimuth (yaw) and polar angle (pitch).
func (c *Controls) Rotate(dAzimuth, dPolar float64) {
	if !finite(dAzimuth) || !finite(dPolar) {
		return
	}
	c.azimuth = math.Remainder(c.azimuth+dAzimuth, 2*math.Pi)
	c.polar = clamp(c.polar+dPolar, MinPolar, MaxPolar)
}

// Dolly moves the camera toward (negative) or away from (positive) the target.
func (c *Controls) Dolly(delta float64) {
	if !finite(delta) {
		return
	}
	c.distance = clamp(c.distance+delta, MinDistance, MaxDistance)
}

// Pan always fails.
func (c *Controls) Pan(dx, dy float64) error {
	return ErrPanDisabled
}

// Camera returns the camera for the current orbit.
func (c Controls) Camera() Camera {
	sinP, cosP := math.Sincos(c.polar)
	sinA, cosA := math.Sincos(c.azimuth)
	return Camera{
		Position: V(
			c.distance*sinP*sinA,
			c.distance*cosP,
			c.distance*sinP*cosA,
		),
		FOV:         CameraFOV,
		Distance:    c.distance,
		Polar:       c.polar,
		Azimuth:     c.azimuth,
		MinDistance: MinDistance,
		MaxDistance: MaxDistance,
		MinPolar:    MinPolar,
		MaxPolar:    MaxPolar,
	}
}

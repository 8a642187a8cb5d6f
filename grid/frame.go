// Copyright 2026 The mstransform Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grid

import (
	"math"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrVelocityFrame reports a source radial velocity expressed in a frame
// that cannot be used for the SOURCE frame conversion.
var ErrVelocityFrame = errors.New("grid: radial velocity reference type mismatch")

// C is the speed of light in vacuum, in m/s.
const C = 299792458.0

// Frame is a spectral reference frame.
type Frame int

const (
	Topo Frame = iota
	Geo
	Bary
	LSRK
	LSRD
	Galacto
	LGroup
	CMB
	Source
)

var frameNames = [...]string{
	Topo:    "TOPO",
	Geo:     "GEO",
	Bary:    "BARY",
	LSRK:    "LSRK",
	LSRD:    "LSRD",
	Galacto: "GALACTO",
	LGroup:  "LGROUP",
	CMB:     "CMB",
	Source:  "SOURCE",
}

func (f Frame) String() string {
	if f < 0 || int(f) >= len(frameNames) {
		return "UNDEFINED"
	}
	return frameNames[f]
}

// ParseFrame returns the frame named s (case insensitive).
func ParseFrame(s string) (Frame, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "BARY", "BARYCENTRIC":
		return Bary, nil
	case "LSR":
		return LSRK, nil
	}
	for i, name := range frameNames {
		if name == s {
			return Frame(i), nil
		}
	}
	return Topo, errors.Errorf("grid: unknown spectral frame %q", s)
}

// Direction is an equatorial J2000 direction, in radians.
type Direction struct {
	RA  float64
	Dec float64
}

// Unit returns the unit vector pointing towards the direction.
func (d Direction) Unit() r3.Vec {
	cd := math.Cos(d.Dec)
	return r3.Vec{
		X: cd * math.Cos(d.RA),
		Y: cd * math.Sin(d.RA),
		Z: math.Sin(d.Dec),
	}
}

// Observer is the observatory at a given epoch.
type Observer struct {
	Position r3.Vec  // ITRF position, in metres
	Epoch    float64 // MJD, in seconds
}

// SourceVelocity is the systemic radial velocity of a field, in m/s,
// expressed in Frame and varying linearly with time around Epoch.
type SourceVelocity struct {
	Velocity float64
	Rate     float64 // m/s per second
	Epoch    float64 // MJD, in seconds
	Frame    Frame
}

// At returns the radial velocity at time t (MJD seconds).
func (sv SourceVelocity) At(t float64) float64 {
	if sv.Epoch == 0 {
		return sv.Velocity
	}
	return sv.Velocity + sv.Rate*(t-sv.Epoch)
}

// Converter maps a frequency from one frame into another.
type Converter func(freq float64) float64

// Identity is the converter for an unchanged frame.
func Identity(freq float64) float64 { return freq }

// NewConverter returns the frequency conversion from frame `from` to frame
// `to` for an observer looking at dir. src is required when either frame is
// Source.
func NewConverter(from, to Frame, obs Observer, dir Direction, src *SourceVelocity) (Converter, error) {
	if from == to {
		return Identity, nil
	}
	srcFactor := 1.0
	if from == Source || to == Source {
		if src == nil {
			return nil, errors.Errorf("grid: conversion %v->%v needs a source radial velocity", from, to)
		}
		switch src.Frame {
		case LSRK, Bary:
		default:
			return nil, errors.Wrapf(ErrVelocityFrame, "radial velocity given in %v", src.Frame)
		}
		beta := src.At(obs.Epoch) / C
		// a receding source is observed at lower frequencies.
		srcFactor = math.Sqrt((1 + beta) / (1 - beta))
	}

	base := func(f Frame) Frame {
		if f == Source {
			return src.frame()
		}
		return f
	}

	var (
		vfrom  = frameVelocity(base(from), obs)
		vto    = frameVelocity(base(to), obs)
		beta   = r3.Scale(1/C, r3.Sub(vfrom, vto))
		gamma  = 1 / math.Sqrt(1-r3.Dot(beta, beta))
		doppl  = gamma * (1 + r3.Dot(beta, dir.Unit()))
		factor = 1 / doppl
	)
	if from == Source {
		factor /= srcFactor
	}
	if to == Source {
		factor *= srcFactor
	}

	return func(freq float64) float64 { return freq * factor }, nil
}

func (sv *SourceVelocity) frame() Frame {
	if sv == nil {
		return LSRK
	}
	return sv.Frame
}

const (
	kms         = 1e3
	earthOmega  = 7.2921150e-5 // rad/s
	earthV0     = 29.7859 * kms
	earthEcc    = 0.016708634
	perihelion  = 102.93735 * math.Pi / 180
	obliquity   = 23.4392911 * math.Pi / 180
	mjdToJD     = 2400000.5
	j2000       = 2451545.0
	secondsPerD = 86400.0
)

// frameVelocity returns the velocity of the origin of frame f relative to
// the solar system barycentre, in J2000 equatorial coordinates (m/s).
func frameVelocity(f Frame, obs Observer) r3.Vec {
	switch f {
	case Topo:
		return r3.Add(earthOrbit(obs.Epoch), earthRotation(obs))
	case Geo:
		return earthOrbit(obs.Epoch)
	case Bary:
		return r3.Vec{}
	case LSRK:
		// the Sun moves at 20 km/s towards RA=18h, Dec=+30d (B1900).
		return r3.Scale(-20*kms, Direction{RA: radec(18, 3, 50.29), Dec: deg(30, 0, 16.8)}.Unit())
	case LSRD:
		return r3.Scale(-16.55294*kms, galactic(53.13, 25.02))
	case Galacto:
		lsrd := r3.Scale(16.55294*kms, galactic(53.13, 25.02))
		rot := r3.Scale(220*kms, galactic(90, 0))
		return r3.Scale(-1, r3.Add(lsrd, rot))
	case LGroup:
		return r3.Scale(-308*kms, galactic(105, -7))
	case CMB:
		return r3.Scale(-369.5*kms, galactic(264.14, 48.26))
	}
	return r3.Vec{}
}

// earthOrbit returns the low-precision barycentric velocity of the Earth.
func earthOrbit(mjdsec float64) r3.Vec {
	var (
		jd  = mjdsec/secondsPerD + mjdToJD
		t   = (jd - j2000) / 36525
		l0  = 280.46646 + 36000.76983*t
		m   = (357.52911 + 35999.05029*t) * math.Pi / 180
		c   = (1.914602-0.004817*t)*math.Sin(m) + 0.019993*math.Sin(2*m) + 0.000289*math.Sin(3*m)
		sun = (l0 + c) * math.Pi / 180
		vx  = earthV0 * (math.Sin(sun) + earthEcc*math.Sin(perihelion))
		vy  = -earthV0 * (math.Cos(sun) + earthEcc*math.Cos(perihelion))
	)
	// ecliptic -> equatorial.
	return r3.Vec{
		X: vx,
		Y: vy * math.Cos(obliquity),
		Z: vy * math.Sin(obliquity),
	}
}

// earthRotation returns the velocity of the observatory due to the Earth
// rotation.
func earthRotation(obs Observer) r3.Vec {
	var (
		jd    = obs.Epoch/secondsPerD + mjdToJD
		era   = 2 * math.Pi * frac(0.7790572732640+1.00273781191135448*(jd-j2000))
		p     = obs.Position
		vx    = -earthOmega * p.Y
		vy    = earthOmega * p.X
		c, s  = math.Cos(era), math.Sin(era)
		vcelx = vx*c - vy*s
		vcely = vx*s + vy*c
	)
	return r3.Vec{X: vcelx, Y: vcely}
}

// galactic returns the equatorial J2000 unit vector of galactic longitude l
// and latitude b, in degrees.
func galactic(l, b float64) r3.Vec {
	l *= math.Pi / 180
	b *= math.Pi / 180
	g := r3.Vec{
		X: math.Cos(b) * math.Cos(l),
		Y: math.Cos(b) * math.Sin(l),
		Z: math.Sin(b),
	}
	// transpose of the J2000 equatorial -> galactic rotation.
	return r3.Vec{
		X: -0.0548755604*g.X + 0.4941094279*g.Y - 0.8676661490*g.Z,
		Y: -0.8734370902*g.X - 0.4448296300*g.Y - 0.1980763734*g.Z,
		Z: -0.4838350155*g.X + 0.7469822445*g.Y + 0.4559837762*g.Z,
	}
}

func radec(h, m, s float64) float64 { return (h + m/60 + s/3600) * 15 * math.Pi / 180 }
func deg(d, m, s float64) float64   { return (d + m/60 + s/3600) * math.Pi / 180 }

func frac(x float64) float64 { return x - math.Floor(x) }

// VelocityType is a velocity definition convention.
type VelocityType int

const (
	Radio VelocityType = iota
	Optical
)

// ParseVelocityType returns the convention named s.
func ParseVelocityType(s string) (VelocityType, error) {
	switch strings.ToLower(s) {
	case "", "radio":
		return Radio, nil
	case "optical", "z":
		return Optical, nil
	}
	return Radio, errors.Errorf("grid: unknown velocity type %q", s)
}

// ToVelocity returns the velocity of freq relative to the rest frequency.
func (vt VelocityType) ToVelocity(freq, rest float64) float64 {
	switch vt {
	case Optical:
		return C * (rest/freq - 1)
	default:
		return C * (1 - freq/rest)
	}
}

// ToFreq returns the frequency observed at velocity v relative to the rest
// frequency.
func (vt VelocityType) ToFreq(v, rest float64) float64 {
	switch vt {
	case Optical:
		return rest / (1 + v/C)
	default:
		return rest * (1 - v/C)
	}
}

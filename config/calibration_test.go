package config

import (
	"errors"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestCalibration(t *testing.T) {
	on, off := true, false
	chestOff := validCamera()
	chestOff.CentralVignette = &off
	side := validCamera()
	side.CentralVignette = &on
	distorted := validCamera()
	distorted.Distortion = &Distortion{Model: "brown_conrady", Parameters: []float64{-0.1}}
	broken := validCamera()
	broken.Intrinsics.Width = 0

	calib := NewCalibration(map[string]*Camera{
		"CAMERACHEST_LEFT":  validCamera(),
		"CAMERACHEST_RIGHT": chestOff,
		"SIDE":              side,
		"DISTORTED":         distorted,
		"BROKEN":            broken,
	})

	model, err := calib.CameraModel("CAMERACHEST_LEFT")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.ImageWidth(), test.ShouldEqual, 640)
	test.That(t, model.ImageHeight(), test.ShouldEqual, 480)
	px, err := model.Project(r3.Vector{Z: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldEqual, 320)

	again, err := calib.CameraModel("CAMERACHEST_LEFT")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, model)

	model, err = calib.CameraModel("DISTORTED")
	test.That(t, err, test.ShouldBeNil)
	px, err = model.Project(r3.Vector{X: 0.5, Z: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldBeLessThan, 570)

	_, err = calib.CameraModel("BROKEN")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = calib.CameraModel("MISSING")
	test.That(t, errors.Is(err, ErrCameraNotConfigured), test.ShouldBeTrue)

	frame, err := calib.CoordFrame("SIDE")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame, test.ShouldEqual, "CAMERA_LEFT")
	_, err = calib.CoordFrame("MISSING")
	test.That(t, errors.Is(err, ErrCameraNotConfigured), test.ShouldBeTrue)

	test.That(t, calib.CentralVignette("CAMERACHEST_LEFT"), test.ShouldBeTrue)
	test.That(t, calib.CentralVignette("CAMERACHEST_RIGHT"), test.ShouldBeFalse)
	test.That(t, calib.CentralVignette("SIDE"), test.ShouldBeTrue)
	test.That(t, calib.CentralVignette("DISTORTED"), test.ShouldBeFalse)
	test.That(t, calib.CentralVignette("MISSING"), test.ShouldBeFalse)
}

func TestCalibrationUpdate(t *testing.T) {
	left := validCamera()
	calib := NewCalibration(map[string]*Camera{"LEFT": left})
	before, err := calib.CameraModel("LEFT")
	test.That(t, err, test.ShouldBeNil)
	_, err = calib.CameraModel("RIGHT")
	test.That(t, errors.Is(err, ErrCameraNotConfigured), test.ShouldBeTrue)

	calib.Update(map[string]*Camera{"LEFT": left, "RIGHT": validCamera()})
	same, err := calib.CameraModel("LEFT")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, same, test.ShouldEqual, before)
	_, err = calib.CameraModel("RIGHT")
	test.That(t, err, test.ShouldBeNil)

	moved := validCamera()
	moved.Intrinsics.Ppx = 100
	calib.Update(map[string]*Camera{"LEFT": moved})
	after, err := calib.CameraModel("LEFT")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, after, test.ShouldNotEqual, before)
	px, err := after.Project(r3.Vector{Z: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, px.X, test.ShouldEqual, 100)
}

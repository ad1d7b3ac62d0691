package imagequeue

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/test"

	"go.viam.com/imagequeue/logging"
	"go.viam.com/imagequeue/message"
	"go.viam.com/imagequeue/transport/inproc"
)

var _ Subscriber = (*inproc.Bus)(nil)

func TestRegisterCamera(t *testing.T) {
	q := newTestQueue(t)

	test.That(t, q.RegisterCamera("LEFT"), test.ShouldBeNil)
	info, err := q.Resolve("LEFT")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.HasCalibration, test.ShouldBeTrue)
	test.That(t, info.CoordFrame, test.ShouldEqual, "left_frame")
	test.That(t, info.CentralVignette, test.ShouldBeFalse)
	test.That(t, info.Utime, test.ShouldEqual, 0)

	// registering twice keeps the record
	test.That(t, q.RegisterCamera("LEFT"), test.ShouldBeNil)
	test.That(t, q.CameraNames(), test.ShouldResemble, []string{"LEFT"})

	test.That(t, q.RegisterCamera("CAMERACHEST_LEFT"), test.ShouldBeNil)
	info, err = q.Resolve("CAMERACHEST_LEFT")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.CentralVignette, test.ShouldBeTrue)

	t.Run("missing calibration still registers", func(t *testing.T) {
		test.That(t, q.RegisterCamera("UNKNOWN"), test.ShouldBeNil)
		info, err := q.Resolve("UNKNOWN")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.HasCalibration, test.ShouldBeFalse)
		test.That(t, q.logs.FilterMessage("failed to get camera model, camera is uncalibrated").Len(), test.ShouldEqual, 1)

		test.That(t, q.RegisterCamera("NOFRAME"), test.ShouldBeNil)
		info, err = q.Resolve("NOFRAME")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.HasCalibration, test.ShouldBeFalse)
		test.That(t, q.logs.FilterMessage("failed to get camera frame, camera is uncalibrated").Len(), test.ShouldEqual, 1)
	})

	t.Run("no calibration provider", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		bare := New(Options{Logger: logger})
		test.That(t, bare.RegisterCamera("LEFT"), test.ShouldBeNil)
		info, err := bare.Resolve("LEFT")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.HasCalibration, test.ShouldBeFalse)
		test.That(t, logs.FilterMessage("no calibration provider, camera is uncalibrated").Len(), test.ShouldEqual, 1)
	})

	test.That(t, q.RegisterCamera(""), test.ShouldNotBeNil)
	_, err = q.Resolve("NOPE")
	test.That(t, errors.Is(err, ErrLookupMiss), test.ShouldBeTrue)
	test.That(t, q.CameraNames(), test.ShouldResemble, []string{"CAMERACHEST_LEFT", "LEFT", "NOFRAME", "UNKNOWN"})
}

func TestAddCameraStream(t *testing.T) {
	ctx := context.Background()
	logger, logs := logging.NewObservedTestLogger(t)
	bus := inproc.NewBus()
	q := New(Options{
		Logger:      logger,
		Calibration: newFakeCalibration(),
		Transforms:  newFakeTransforms(),
		Subscriber:  bus,
	})

	test.That(t, q.AddCameraStreamSingle(ctx, "LEFT"), test.ShouldBeNil)
	test.That(t, q.AddCameraStream(ctx, "STEREO", "LEFT", message.ImageTypeLeft), test.ShouldBeNil)
	test.That(t, q.AddCameraStream(ctx, "STEREO", "RIGHT", message.ImageTypeRight), test.ShouldBeNil)
	test.That(t, q.AddCameraStream(ctx, "STEREO", "RIGHT", message.ImageTypeRight), test.ShouldBeNil)
	test.That(t, bus.Channels(), test.ShouldResemble, map[string]int{"LEFT": 1, "STEREO": 1})
	test.That(t, q.Channels(), test.ShouldResemble, []string{"LEFT", "STEREO"})
	test.That(t, q.CameraNames(), test.ShouldResemble, []string{"LEFT", "RIGHT"})

	err := q.AddCameraStream(ctx, "STEREO", "RIGHT", message.ImageTypeLeft)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "already binds")
	err = q.AddCameraStream(ctx, "STEREO", "OTHER", message.ImageTypeSingle)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "both single images and image containers")
	test.That(t, q.AddCameraStream(ctx, "", "LEFT", message.ImageTypeSingle), test.ShouldNotBeNil)
	test.That(t, q.AddCameraStream(ctx, "X", "", message.ImageTypeSingle), test.ShouldNotBeNil)

	t.Run("published frames are ingested", func(t *testing.T) {
		test.That(t, bus.Publish(ctx, "LEFT", rgbFrame(100, solidImage(2, 2, 1, 2, 3))), test.ShouldBeNil)
		test.That(t, q.CurrentImageTime("LEFT"), test.ShouldEqual, 100)

		imgs := message.Images{
			Utime:      200,
			ImageTypes: []message.ImageType{message.ImageTypeLeft, message.ImageTypeRight},
			Images: []message.Image{
				rgbImage(0, solidImage(2, 2, 1, 1, 1)),
				rgbImage(0, solidImage(2, 2, 2, 2, 2)),
			},
		}
		test.That(t, bus.Publish(ctx, "STEREO", imgs.Marshal()), test.ShouldBeNil)
		test.That(t, q.CurrentImageTime("LEFT"), test.ShouldEqual, 200)
		test.That(t, q.CurrentImageTime("RIGHT"), test.ShouldEqual, 200)

		test.That(t, bus.Publish(ctx, "LEFT", []byte{0xff}), test.ShouldBeNil)
		test.That(t, logs.FilterMessage("failed to ingest frame").Len(), test.ShouldEqual, 1)
		test.That(t, q.CurrentImageTime("LEFT"), test.ShouldEqual, 200)
	})

	t.Run("failed subscriptions are retried", func(t *testing.T) {
		sub := &flakySubscriber{failures: 1}
		flaky := New(Options{Logger: logger, Subscriber: sub})
		test.That(t, flaky.AddCameraStreamSingle(ctx, "LEFT"), test.ShouldNotBeNil)
		test.That(t, sub.handlers, test.ShouldBeEmpty)
		test.That(t, flaky.AddCameraStreamSingle(ctx, "LEFT"), test.ShouldBeNil)
		test.That(t, sub.handlers, test.ShouldContainKey, "LEFT")
	})
}

// Package cli contains the imagequeue command line: offline colorizing and texturing of point
// cloud files, and a server keeping the latest frame of every configured camera.
package cli

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"go.viam.com/imagequeue/logging"
)

const (
	flagConfig  = "config"
	flagDebug      = "debug"
	flagDebugCalls = "debug-calls"
	flagLogFile    = "log-file"

	flagCamera      = "camera"
	flagImage       = "image"
	flagUtime       = "utime"
	flagInput       = "input"
	flagOutput      = "output"
	flagChannel     = "channel"
	flagJPEGQuality = "jpeg-quality"
	flagSnapshotDir = "snapshot-dir"
	flagCloud       = "cloud"
	flagInterval    = "interval"
)

var cameraImageFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     flagCamera,
		Usage:    "camera whose calibration is used",
		Required: true,
	},
	&cli.PathFlag{
		Name:     flagImage,
		Usage:    "PNG or JPEG `FILE` taken by the camera",
		Required: true,
	},
	&cli.Int64Flag{
		Name:  flagUtime,
		Usage: "sensor time of the image in microseconds, 0 for the latest frame poses",
	},
	&cli.PathFlag{
		Name:     flagInput,
		Usage:    "point cloud `FILE` (.pcd or .las) in the local frame",
		Required: true,
	},
	&cli.PathFlag{
		Name:     flagOutput,
		Usage:    "point cloud `FILE` to write",
		Required: true,
	},
}

var app = &cli.App{
	Name:            "imagequeue",
	Usage:           "color point clouds with the latest camera frames",
	HideHelpCommand: true,
	Before: func(c *cli.Context) error {
		if c.Bool(flagDebugCalls) {
			c.Context = logging.EnableDebugMode(c.Context, c.App.Name)
		}
		return nil
	},
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
			EnvVars: []string{"IMAGEQUEUE_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.BoolFlag{
			Name:  flagDebugCalls,
			Usage: "log the debug details of queue calls made by the command without raising the log level",
		},
		&cli.PathFlag{
			Name:  flagLogFile,
			Usage: "also log to the size rotated `FILE`, overriding log_file of the config",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "colorize",
			Usage:     "color a point cloud with an image file",
			UsageText: "imagequeue --config FILE colorize --camera NAME --image FILE --input FILE --output FILE",
			Flags:     cameraImageFlags,
			Action:    ColorizeAction,
		},
		{
			Name:      "texture",
			Usage:     "compute the texture coordinates of a point cloud in an image file",
			UsageText: "imagequeue --config FILE texture --camera NAME --image FILE --input FILE --output FILE.pcd",
			Flags:     cameraImageFlags,
			Action:    TextureAction,
		},
		{
			Name:  "frustum",
			Usage: "print the rays through the image corners of a camera",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagCamera,
					Usage:    "camera to print the frustum of",
					Required: true,
				},
			},
			Action: FrustumAction,
		},
		{
			Name:   "frames",
			Usage:  "list the configured coordinate frames",
			Action: FramesAction,
		},
		{
			Name:  "serve",
			Usage: "subscribe to the configured streams and keep the latest frame of every camera",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  flagSnapshotDir,
					Usage: "write the latest frame of every camera to `DIR`",
				},
				&cli.PathFlag{
					Name:  flagCloud,
					Usage: "point cloud `FILE` colored with every camera and written to the snapshot directory",
				},
				&cli.DurationFlag{
					Name:  flagInterval,
					Usage: "how often to log camera status and write snapshots",
					Value: 5 * time.Second,
				},
			},
			Action: ServeAction,
		},
		{
			Name:  "publish",
			Usage: "publish an image file as a single image frame over MQTT",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     flagChannel,
					Usage:    "channel to publish on",
					Required: true,
				},
				&cli.PathFlag{
					Name:     flagImage,
					Usage:    "PNG or JPEG `FILE` to publish",
					Required: true,
				},
				&cli.Int64Flag{
					Name:  flagUtime,
					Usage: "sensor time of the frame in microseconds, defaults to now",
				},
				&cli.IntFlag{
					Name:  flagJPEGQuality,
					Usage: "publish as MJPEG with this quality (1-100) instead of raw RGB",
				},
			},
			Action: PublishAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the configuration file",
			Action: SchemaAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

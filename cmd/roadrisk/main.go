// Package main is the road risk analysis service.
package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig    = "config"
	flagEnvFile   = "env-file"
	flagLogLevel  = "log-level"
	flagImage     = "image"
	flagProfile   = "profile"
	flagIndex     = "cctv-idx"
	flagLat       = "lat"
	flagLon       = "lon"
	flagSave      = "save"
	flagAutoStart = "auto-start"
)

var app = &cli.App{
	Name:            "roadrisk",
	Usage:           "analyse CCTV frames for road damage and weather risk",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
			EnvVars: []string{"ROADRISK_CONFIG"},
		},
		&cli.StringSliceFlag{
			Name:  flagEnvFile,
			Usage: "load environment from `FILE` (default .env)",
		},
		&cli.StringFlag{
			Name:  flagLogLevel,
			Usage: "override log level (debug, info, warn, error, silent)",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "serve",
			Usage: "run the scheduler and the monitor server",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  flagAutoStart,
					Usage: "start the analysis schedule immediately",
				},
			},
			Action: ServeAction,
		},
		{
			Name:      "analyze",
			Usage:     "analyse image files once and print the reports",
			ArgsUsage: "--image FILE [--image FILE...]",
			Flags: []cli.Flag{
				&cli.StringSliceFlag{
					Name:     flagImage,
					Aliases:  []string{"i"},
					Usage:    "image `FILE` to analyse",
					Required: true,
				},
				&cli.StringFlag{
					Name:  flagProfile,
					Usage: "profile `NAME` (default: first configured profile)",
				},
				&cli.IntFlag{
					Name:  flagIndex,
					Usage: "camera index reported with the result",
				},
				&cli.Float64Flag{
					Name:  flagLat,
					Usage: "latitude for the weather lookup",
				},
				&cli.Float64Flag{
					Name:  flagLon,
					Usage: "longitude for the weather lookup",
				},
				&cli.BoolFlag{
					Name:  flagSave,
					Usage: "store reports in the configured sinks",
				},
			},
			Action: AnalyzeAction,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// Command facemask detects faces with and without masks in images and videos.
package main

import (
	"os"

	"github.com/nvr-ai/go-facemask/event"
	"github.com/urfave/cli"
)

var log = event.Log

func main() {
	app := cli.NewApp()
	app.Name = "facemask"
	app.Usage = "Detect faces with and without masks"
	app.Version = "0.1.0"
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		DetectCommand,
		VideoCommand,
		BenchCommand,
		ServeCommand,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

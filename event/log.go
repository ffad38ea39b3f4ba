// Package event - Shared structured logger.
package event

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the logger shared by all packages of the module.
var Log = logrus.New()

func init() {
	Log.SetOutput(os.Stderr)
	Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	Log.SetLevel(logrus.InfoLevel)
}

// Configure sets the level and the output format of the shared logger.
//
// Arguments:
//   - level: A logrus level name such as "debug", "info" or "warn".
//   - json: If true, entries are written as JSON.
//
// Returns:
//   - error: An error if the level name is unknown.
func Configure(level string, json bool) error {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)

	if json {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}

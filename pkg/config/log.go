package config

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

func setupLog(app App) {
	log.SetOutput(os.Stderr)
	if strings.Contains(app.RunMode, "prod") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level, err := log.ParseLevel(app.LogLevel)
	if err != nil {
		log.Warnf("unknown log level %q, fallback to info", app.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

// Package logging настраивает logrus для сервера и CLI.
package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup выставляет уровень (debug|info|warn|error) и формат (text|json) глобального логгера.
func Setup(level, format string) {
	SetupTo(os.Stderr, level, format)
}

// SetupTo — то же, но с явным выводом.
func SetupTo(w io.Writer, level, format string) {
	log.SetOutput(w)
	log.SetLevel(parseLevel(level))
	if strings.EqualFold(format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func parseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// ForTable — логгер операций над таблицей.
func ForTable(table string) *log.Entry {
	return log.WithField("table", table)
}

// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"
)

// Formatter prints entries as "timestamp [LEVEL] message".
type Formatter struct {
	TimestampFormat string
}

func (f *Formatter) Format(entry *log.Entry) ([]byte, error) {
	msg := entry.Message
	for k, v := range entry.Data {
		msg += fmt.Sprintf(" %s=%v", k, v)
	}
	line := fmt.Sprintf("%s [%s] %s\n",
		entry.Time.Format(f.TimestampFormat),
		entry.Level.String(),
		msg)
	return []byte(line), nil
}

// Setup configures level and output. With dir set, output rotates hourly
// into dated files; otherwise it stays on stderr.
func Setup(level, dir string) error {
	log.SetFormatter(&Formatter{TimestampFormat: "2006-01-02 15:04:05.000"})

	parsed, err := log.ParseLevel(level)
	if err != nil {
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)

	if dir == "" {
		return nil
	}
	writer, err := rotatelogs.New(
		filepath.Join(dir, "engine.%Y-%m-%d-%H.log"),
		rotatelogs.WithLinkName(filepath.Join(dir, "engine.log")),
		rotatelogs.WithRotationTime(time.Hour),
		rotatelogs.WithMaxAge(7*24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("log rotation: %w", err)
	}
	log.SetOutput(writer)
	return nil
}

package config

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Writer returns the sink for a log stream stored at path. Files rotate
// according to the MaxSize, MaxBackups and MaxAge settings.
func (l LoggingConfig) Writer(path string) io.Writer {
	if path == "" || l.Output == "stdout" || l.Output == "" {
		return os.Stdout
	}

	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    l.MaxSize,
		MaxBackups: l.MaxBackups,
		MaxAge:     l.MaxAge,
		Compress:   l.Compress,
	}
	if l.Output == "file" {
		return file
	}
	return io.MultiWriter(os.Stdout, file)
}

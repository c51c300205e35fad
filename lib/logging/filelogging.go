package logging

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/ziflex/lecho/v3"
)

func Logger(logFilePath string, level string) *lecho.Logger {
	logger := lecho.New(
		os.Stdout, // default to STDOUT
		lecho.WithLevel(ParseLevel(level)),
		lecho.WithTimestamp(),
	)
	// check if a log file config is set
	if logFilePath != "" {
		file, err := GetLoggingFile(logFilePath)
		if err != nil {
			logger.Errorf("failed to create logging file: %v", err)
			return logger
		}
		logger.SetOutput(file)
	}

	return logger
}

// ParseLevel maps a LOG_LEVEL value onto a gommon level, defaulting to INFO.
func ParseLevel(level string) log.Lvl {
	switch strings.ToLower(level) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

func GetLoggingFile(path string) (*os.File, error) {
	suffix := time.Now().Format("2006-01-02T15-04-05")
	extension := filepath.Ext(path)
	if extension != "" {
		path = strings.TrimSuffix(path, extension) + "-" + suffix + extension
	} else {
		path = path + "-" + suffix
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return f, err
}

package server

import (
	"fmt"
	"log/slog"
	"os"

	uuid "github.com/satori/go.uuid"

	"github.com/Serguei-P/http-sub000/internal/helper"
)

// InstanceLogger tags every record with the identity of one server
// instance, so several servers can share a log.
type InstanceLogger struct {
	InstanceID   string
	InstanceName string
	Port         string
	LogFilePath  string
	logger       *slog.Logger
}

// NewInstanceLogger creates a logger with instance identification.
func NewInstanceLogger(addr, instanceName string) *InstanceLogger {
	return NewInstanceLoggerWithFile(addr, instanceName, "")
}

// NewInstanceLoggerWithFile creates a logger with instance identification
// and optional JSON output to logFilePath. If the file cannot be opened the
// global logger is used.
func NewInstanceLoggerWithFile(addr, instanceName, logFilePath string) *InstanceLogger {
	port := helper.PortOf(addr)
	if instanceName == "" {
		instanceName = fmt.Sprintf("server-%s", port)
	}

	il := &InstanceLogger{
		InstanceID:   uuid.NewV4().String()[:8],
		InstanceName: instanceName,
		Port:         port,
		LogFilePath:  logFilePath,
	}

	base := slog.Default()
	if logFilePath != "" {
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			slog.Error("failed to open log file", "file", logFilePath, "error", err)
		} else {
			base = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{}))
		}
	}
	il.logger = base.With(
		"instance_id", il.InstanceID,
		"instance_name", il.InstanceName,
		"port", il.Port,
	)
	return il
}

// WithFields adds additional fields to the logger.
func (il *InstanceLogger) WithFields(args ...any) *slog.Logger {
	return il.logger.With(args...)
}

// GetLogger returns the underlying slog logger.
func (il *InstanceLogger) GetLogger() *slog.Logger {
	return il.logger
}

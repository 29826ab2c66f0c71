package logging

import (
	"log/slog"
)

// WithVolume creates a logger with volume context.
// Use this for lifecycle operations so every log line names the volume.
//
// Example:
//
//	log := logging.WithVolume(v.Name())
//	log.Info("closing volume")
func WithVolume(name string) *slog.Logger {
	return GetLogger().With("volume", name)
}

// WithPage creates a logger with volume and page context.
// Useful for buffer cache and backing-store operations.
func WithPage(volumeID int64, pageNo int64) *slog.Logger {
	return GetLogger().With("volume_id", volumeID, "page", pageNo)
}

// WithBuffer creates a logger with buffer-slot context.
func WithBuffer(slot int) *slog.Logger {
	return GetLogger().With("slot", slot)
}

// WithComponent creates a logger with component/subsystem context.
//
// Example:
//
//	log := logging.WithComponent("buffercache")
//	log.Info("component initialized")
func WithComponent(component string) *slog.Logger {
	return GetLogger().With("component", component)
}

// WithError creates a logger with error context.
// Use this when logging errors to include the error in structured form.
func WithError(err error) *slog.Logger {
	return GetLogger().With("error", err.Error())
}

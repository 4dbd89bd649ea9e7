package histview

import "log/slog"

var logger = slog.Default()

// SetLogger replaces the package logger. Nil input is ignored.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

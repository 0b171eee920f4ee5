package session

import (
	"context"
	"log/slog"
)

// Level is the severity of a notice
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a dismissable message for the user
type Notice struct {
	Level   Level
	Title   string
	Message string
}

// Notifier delivers notices to the user
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(Notice)

// Notify calls f(n)
func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to the default logger
type LogNotifier struct{}

// Notify logs the notice at the matching level
func (LogNotifier) Notify(n Notice) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	slog.Log(context.Background(), level, n.Title, "message", n.Message)
}

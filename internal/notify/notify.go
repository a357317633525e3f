// Package notify carries user-facing launch, stop and failure notices.
package notify

import (
	"time"

	"go.uber.org/zap"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Event struct {
	Level       Level
	Title       string
	Message     string
	WorkspaceID int64
	ActionID    int64
	At          time.Time
}

type Notifier interface {
	Notify(e Event)
}

type Func func(e Event)

func (f Func) Notify(e Event) { f(e) }

var Nop Notifier = Func(func(Event) {})

// Log writes events to a zap logger at a level matching the event.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(e Event) {
	fields := []zap.Field{
		zap.String("title", e.Title),
		zap.Int64("workspace_id", e.WorkspaceID),
		zap.Int64("action_id", e.ActionID),
	}
	switch e.Level {
	case LevelError:
		l.logger.Error(e.Message, fields...)
	case LevelWarning:
		l.logger.Warn(e.Message, fields...)
	default:
		l.logger.Info(e.Message, fields...)
	}
}

type multi []Notifier

func (m multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Multi fans an event out to every non-nil notifier.
func Multi(ns ...Notifier) Notifier {
	var out multi
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// Stamp fills in At when unset.
func Stamp(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return e
}

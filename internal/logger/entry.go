package logger

import (
	"context"
)

// Entry collects the fields of one parser event before it is written: the
// task, account, session, slot or plan it concerns plus metric values such as
// duration_ms and count.
//
//	logger.For(w.logger).WithTask(task.ID).WithSlot(slotID).
//	    WithStatus("DONE").WithCount(fetched).Info(ctx, "Task finished")
type Entry struct {
	logger *Logger
	fields Fields
}

// For starts an Entry that writes through l when the context carries no
// logger of its own. A nil l falls back to the default logger.
func For(l *Logger) *Entry {
	if l == nil {
		l = GetDefault()
	}
	return &Entry{logger: l, fields: Fields{}}
}

// With starts an Entry on the default logger.
func With(fields Fields) *Entry {
	return For(nil).With(fields)
}

// With returns a copy of e carrying fields as well.
func (e *Entry) With(fields Fields) *Entry {
	merged := make(Fields, len(e.fields)+len(fields))
	for k, v := range e.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Entry{logger: e.logger, fields: merged}
}

func (e *Entry) WithField(key string, value interface{}) *Entry {
	return e.With(Fields{key: value})
}

// withID sets key only for non-empty ids so unassigned references stay out
// of the line.
func (e *Entry) withID(key, id string) *Entry {
	if id == "" {
		return e
	}
	return e.WithField(key, id)
}

func (e *Entry) WithPlan(id string) *Entry    { return e.withID(FieldPlanID, id) }
func (e *Entry) WithTask(id string) *Entry    { return e.withID(FieldTaskID, id) }
func (e *Entry) WithTarget(id string) *Entry  { return e.withID(FieldTargetID, id) }
func (e *Entry) WithAccount(id string) *Entry { return e.withID(FieldAccountID, id) }
func (e *Entry) WithSession(id string) *Entry { return e.withID(FieldSessionID, id) }
func (e *Entry) WithSlot(id string) *Entry    { return e.withID(FieldSlotID, id) }

func (e *Entry) WithDuration(ms int64) *Entry {
	return e.WithField(FieldDurationMs, ms)
}

func (e *Entry) WithCount(count int) *Entry {
	return e.WithField(FieldCount, count)
}

func (e *Entry) WithReason(reason string) *Entry {
	return e.WithField(FieldReason, reason)
}

func (e *Entry) WithStatus(status string) *Entry {
	return e.WithField(FieldStatus, status)
}

// target prefers the logger carried by ctx, which holds request and plan ids.
func (e *Entry) target(ctx context.Context) *Logger {
	return FromContextOr(ctx, e.logger).WithFields(e.fields)
}

func (e *Entry) Debug(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).Debugf(format, args...)
}

func (e *Entry) Info(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).Infof(format, args...)
}

func (e *Entry) Warn(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).Warnf(format, args...)
}

func (e *Entry) Error(ctx context.Context, format string, args ...interface{}) {
	e.target(ctx).Errorf(format, args...)
}

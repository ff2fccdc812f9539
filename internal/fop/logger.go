package fop

// Logger provides structured logging for the engine.
// The args follow slog conventions: alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that discards all output. Use in tests.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// jobLogger prefixes every record with the job ID.
type jobLogger struct {
	next  Logger
	jobID string
}

func withJob(l Logger, jobID string) Logger {
	return &jobLogger{next: l, jobID: jobID}
}

func (l *jobLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.with(args)...) }
func (l *jobLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.with(args)...) }
func (l *jobLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.with(args)...) }
func (l *jobLogger) Error(msg string, args ...any) { l.next.Error(msg, l.with(args)...) }

func (l *jobLogger) with(args []any) []any {
	return append([]any{"job", l.jobID}, args...)
}

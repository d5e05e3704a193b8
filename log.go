package lspclient

import "github.com/sirupsen/logrus"

// Logger is the structured logging interface the core calls into. It is
// satisfied directly by *logrus.Logger/*logrus.Entry; callers that already
// run logrus elsewhere in their process can pass their own configured
// instance so LSP client logs share the same formatter, level, and output.
type Logger interface {
	WithField(key string, value any) *logrus.Entry
	WithError(err error) *logrus.Entry
}

// defaultLogger returns a logrus.Logger with the package's default
// formatting. It is used whenever a Session/Pool/Binding is constructed
// without an explicit logger.
func defaultLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// fieldLogger adapts any Logger into the small surface the core uses
// internally, centralizing the "binding"/"session" field names so every
// log line across the package is attributed consistently.
type fieldLogger struct {
	base Logger
}

func newFieldLogger(l Logger) fieldLogger {
	if l == nil {
		l = defaultLogger()
	}
	return fieldLogger{base: l}
}

func (f fieldLogger) binding(name string) *logrus.Entry {
	return f.base.WithField("binding", name)
}

func (f fieldLogger) session() *logrus.Entry {
	return f.base.WithField("component", "session")
}

func (f fieldLogger) pool() *logrus.Entry {
	return f.base.WithField("component", "pool")
}

package log

import "github.com/sirupsen/logrus"

// Logrus adapts a logrus logger to the Logger interface. Key/value pairs
// become logrus fields; a dangling key is logged under "arg".
type Logrus struct {
	L *logrus.Logger
}

var _ Logger = Logrus{}

// NewLogrus wraps a logrus logger.
func NewLogrus(l *logrus.Logger) Logrus {
	return Logrus{L: l}
}

func (l Logrus) Debug(msg string, keysAndValues ...any) {
	l.L.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l Logrus) Info(msg string, keysAndValues ...any) {
	l.L.WithFields(fields(keysAndValues)).Info(msg)
}

func (l Logrus) Warn(msg string, keysAndValues ...any) {
	l.L.WithFields(fields(keysAndValues)).Warn(msg)
}

func (l Logrus) Error(msg string, keysAndValues ...any) {
	l.L.WithFields(fields(keysAndValues)).Error(msg)
}

func fields(keysAndValues []any) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	if len(keysAndValues)%2 != 0 {
		f["arg"] = keysAndValues[len(keysAndValues)-1]
	}
	return f
}

package kfmt

// Level describes the severity of a diagnostic message.
type Level uint8

// The supported log levels in increasing order of severity.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	// activeLevel is the minimum level that gets emitted.
	activeLevel = LevelInfo

	levelTags = [...][]byte{
		LevelTrace: []byte("[trace] ["),
		LevelDebug: []byte("[debug] ["),
		LevelInfo:  []byte("[info] ["),
		LevelWarn:  []byte("[warn] ["),
		LevelError: []byte("[error] ["),
	}

	moduleTagEnd = []byte("] ")
	lineFeed     = []byte("\n")
)

// SetLevel sets the minimum level of messages that are emitted. Messages with
// a lower severity are discarded.
func SetLevel(l Level) {
	if l > LevelError {
		l = LevelError
	}
	activeLevel = l
}

// ActiveLevel returns the minimum level of messages that are emitted.
func ActiveLevel() Level {
	return activeLevel
}

// String implements fmt.Stringer for Level.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger emits levelled, module-tagged diagnostic lines of the form
// "[info] [module] message" to the active output sink. The zero value logs
// with an empty module tag.
type Logger struct {
	Module string
}

// Tracef logs a message with LevelTrace.
func (l Logger) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }

// Debugf logs a message with LevelDebug.
func (l Logger) Debugf(format string, args ...interface{}) { l.logf(LevelDebug, format, args...) }

// Infof logs a message with LevelInfo.
func (l Logger) Infof(format string, args ...interface{}) { l.logf(LevelInfo, format, args...) }

// Warnf logs a message with LevelWarn.
func (l Logger) Warnf(format string, args ...interface{}) { l.logf(LevelWarn, format, args...) }

// Errorf logs a message with LevelError.
func (l Logger) Errorf(format string, args ...interface{}) { l.logf(LevelError, format, args...) }

func (l Logger) logf(level Level, format string, args ...interface{}) {
	if level < activeLevel {
		return
	}

	doWrite(outputSink, levelTags[level])
	writeString(outputSink, l.Module)
	doWrite(outputSink, moduleTagEnd)
	Fprintf(outputSink, format, args...)
	doWrite(outputSink, lineFeed)
}

package logger

type LevelWrapper struct {
	Base
}

func WrapLogger(l Base) Logger {
	return &LevelWrapper{l}
}

func (w *LevelWrapper) Debug(msg string, kv ...any) {
	w.Log(DebugLevel, msg, kv...)
}

func (w *LevelWrapper) Info(msg string, kv ...any) {
	w.Log(InfoLevel, msg, kv...)
}

func (w *LevelWrapper) Warn(msg string, kv ...any) {
	w.Log(WarnLevel, msg, kv...)
}

func (w *LevelWrapper) Error(msg string, kv ...any) {
	w.Log(ErrorLevel, msg, kv...)
}

func (w *LevelWrapper) With(kv ...any) Logger {
	return WrapLogger(&boundBase{inner: w.Base, kv: kv})
}

// boundBase prepends a fixed set of key-value pairs to every Log call,
// the way zap.Logger.With carries fields forward to every subsequent entry.
type boundBase struct {
	inner Base
	kv    []any
}

func (b *boundBase) Level() LogLevel {
	return b.inner.Level()
}

func (b *boundBase) Log(level LogLevel, msg string, kv ...any) {
	b.inner.Log(level, msg, append(append([]any{}, b.kv...), kv...)...)
}

package clog

import "context"

// discard 丢弃一切输出的 Logger，组件未注入 Logger 时的默认值
type discard struct{}

var discardLogger Logger = discard{}

// Discard 返回静默 Logger，派生出的子 Logger 同样静默
func Discard() Logger {
	return discardLogger
}

func (discard) Debug(string, ...Field)                         {}
func (discard) Info(string, ...Field)                          {}
func (discard) Warn(string, ...Field)                          {}
func (discard) Error(string, ...Field)                         {}
func (discard) Fatal(string, ...Field)                         {}
func (discard) DebugContext(context.Context, string, ...Field) {}
func (discard) InfoContext(context.Context, string, ...Field)  {}
func (discard) WarnContext(context.Context, string, ...Field)  {}
func (discard) ErrorContext(context.Context, string, ...Field) {}
func (discard) FatalContext(context.Context, string, ...Field) {}
func (discard) With(...Field) Logger                           { return discardLogger }
func (discard) WithNamespace(...string) Logger                 { return discardLogger }
func (discard) SetLevel(Level) error                           { return nil }
func (discard) Flush()                                         {}

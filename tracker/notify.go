package tracker

import "go.uber.org/zap"

// Severity は通知の重要度です。
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier はユーザーへの通知を受け取ります。呼び出し側は結果を待ちません。
type Notifier interface {
	Notify(message string, severity Severity)
}

// NotifierFunc は関数をNotifierとして使うためのアダプターです。
type NotifierFunc func(message string, severity Severity)

func (f NotifierFunc) Notify(message string, severity Severity) {
	f(message, severity)
}

// Notifiers は複数のNotifierに同じ通知を送ります。
type Notifiers []Notifier

func (ns Notifiers) Notify(message string, severity Severity) {
	for _, n := range ns {
		if n != nil {
			n.Notify(message, severity)
		}
	}
}

// LogNotifier は通知をzapのログとして出力します。
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(message string, severity Severity) {
	logger := n.Logger
	if logger == nil {
		return
	}
	switch severity {
	case SeverityError:
		logger.Error(message, zap.String("severity", string(severity)))
	case SeverityWarning:
		logger.Warn(message, zap.String("severity", string(severity)))
	default:
		logger.Info(message, zap.String("severity", string(severity)))
	}
}

// Renderer は表示の更新が必要になったことを受け取ります。
type Renderer interface {
	RenderNeeded()
}

// RendererFunc は関数をRendererとして使うためのアダプターです。
type RendererFunc func()

func (f RendererFunc) RenderNeeded() {
	f()
}

type nopRenderer struct{}

func (nopRenderer) RenderNeeded() {}

package chat

import (
	"time"

	"athena-chat/internal/athena"
)

// Toast ids. A toast with an id that is already showing is not repeated.
const (
	ToastChatError       = "chat-error"
	ToastHistoryError    = "history-error"
	ToastMessageNotFound = "message-not-found"
)

// Observer is told about every change a Session makes. Methods are called
// with the session lock held and must not call back into the Session.
type Observer interface {
	ProgressChanged(p Progress)
	MessagesChanged(msgs []athena.Message)
	RouteChanged(r Route)
	Toast(id, message string)
	Highlight(msg athena.Message, d time.Duration)
	TurnFinished()
}

// NopObserver ignores every notification
type NopObserver struct{}

func (NopObserver) ProgressChanged(Progress) {}
func (NopObserver) MessagesChanged([]athena.Message) {}
func (NopObserver) RouteChanged(Route) {}
func (NopObserver) Toast(string, string) {}
func (NopObserver) Highlight(athena.Message, time.Duration) {}
func (NopObserver) TurnFinished() {}

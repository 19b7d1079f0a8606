// Package notify delivers bot messages to users and chats.
package notify

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// Notifier sends text to a user or chat id.
type Notifier interface {
	Notify(ctx context.Context, recipient int64, text string) error
}

// Fanout sends every message through all of its notifiers.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, recipient int64, text string) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, recipient, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes messages to the log. Useful when no transport is configured.
type LogNotifier struct {
	Logger *logrus.Logger
}

func (l LogNotifier) Notify(_ context.Context, recipient int64, text string) error {
	l.Logger.WithFields(logrus.Fields{
		"recipient": recipient,
		"text":      text,
	}).Info("notify")
	return nil
}

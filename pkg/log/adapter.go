package log

import "github.com/sirupsen/logrus"

// BadgerAdapter satisfies badger.Logger on top of a logrus entry. Badger
// narrates compactions and value log maintenance at Info level; the adapter
// demotes that stream to Debug. Warnings and errors keep their severity.
type BadgerAdapter struct {
	entry *logrus.Entry
}

// NewBadgerAdapter wraps entry for use with badger.Options.WithLogger.
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry: entry}
}

func (a *BadgerAdapter) Errorf(format string, args ...interface{}) {
	a.entry.Errorf(format, args...)
}

func (a *BadgerAdapter) Warningf(format string, args ...interface{}) {
	a.entry.Warningf(format, args...)
}

// Infof logs at Debug level, see the type comment.
func (a *BadgerAdapter) Infof(format string, args ...interface{}) {
	a.entry.Debugf(format, args...)
}

func (a *BadgerAdapter) Debugf(format string, args ...interface{}) {
	a.entry.Debugf(format, args...)
}

package store

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerSlogAdapter implements badger.Logger on top of slog.
type badgerSlogAdapter struct {
	l *slog.Logger
}

func newBadgerSlogAdapter(l *slog.Logger) *badgerSlogAdapter {
	return &badgerSlogAdapter{l: l.With("component", "badgerdb")}
}

func (a *badgerSlogAdapter) Errorf(f string, v ...interface{}) { a.l.Error(msg(f, v)) }

func (a *badgerSlogAdapter) Warningf(f string, v ...interface{}) { a.l.Warn(msg(f, v)) }

func (a *badgerSlogAdapter) Infof(f string, v ...interface{}) { a.l.Info(msg(f, v)) }

func (a *badgerSlogAdapter) Debugf(f string, v ...interface{}) { a.l.Debug(msg(f, v)) }

// badger terminates most lines with a newline.
func msg(f string, v []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(f, v...), "\n")
}

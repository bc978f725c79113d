package chatlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/DamOTclese/chatbetween/internal"
)

// Writer appends already-formed chat lines to a date-stamped log file.
// Logging starts enabled; the console :log command toggles it. The writer
// keeps no protocol state of its own.
type Writer struct {
	path    string
	file    *os.File
	enabled bool
}

// New creates the log file in dir, named for the moment of creation so
// successive sessions never collide.
func New(dir string, now time.Time) (*Writer, error) {
	name := fmt.Sprintf("%s-chatlog.txt", now.Format("02Jan2006-15-04-05"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create chat log: %w", err)
	}

	internal.Info("chat log created", internal.Fields{
		internal.ChatLogPath: path,
	})
	return &Writer{
		path:    path,
		file:    f,
		enabled: true,
	}, nil
}

// Path reports where the log lives.
func (w *Writer) Path() string { return w.path }

// Append writes one line and flushes it to disk immediately. Disabled or
// closed writers drop the line without complaint.
func (w *Writer) Append(text string) {
	if w.file == nil || !w.enabled {
		return
	}
	_, _ = w.file.WriteString(text)
	_ = w.file.Sync()
}

// SetEnabled turns logging on or off without touching the file.
func (w *Writer) SetEnabled(on bool) {
	w.enabled = on
}

// Enabled reports the current toggle state.
func (w *Writer) Enabled() bool { return w.enabled }

// Close flushes and releases the log file. Safe to call more than once.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

package errors

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/veebot/veebot/pkg/logger"
	"github.com/veebot/veebot/pkg/metrics"
)

// idLength is the length of correlation ids. Long enough to look up a log
// line, short enough for users to retype from a screenshot.
const idLength = 6

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error is the envelope around every bot failure. ID is a short correlation
// id mentioned in chat when the error happens, so a user can quote it and an
// operator can find the matching log line. Stack is captured only for
// internal errors; user mistakes are expected and not worth a trace.
type Error struct {
	ID    string
	Stack []StackFrame
	Kind  Kind
}

var (
	logMu  sync.RWMutex
	pkgLog *logger.Logger
)

// SetLogger replaces the logger used when envelopes are constructed. The
// package falls back to logger.Global() until it is called.
func SetLogger(l *logger.Logger) {
	logMu.Lock()
	pkgLog = l
	logMu.Unlock()
}

func activeLogger() *logger.Logger {
	logMu.RLock()
	l := pkgLog
	logMu.RUnlock()
	if l == nil {
		return logger.Global()
	}
	return l
}

// New wraps a kind into an envelope. It assigns the correlation id, captures
// the stack when the kind is internal, and emits exactly one error-severity
// log event. This is the only construction path for envelopes; it never
// fails.
func New(kind Kind) *Error {
	e := &Error{
		ID:   newID(),
		Kind: kind,
	}

	internal := kind.class() == ClassInternal
	if internal {
		e.Stack = captureStack(1)
	}

	metrics.RecordError(kind.class().String(), kindName(kind))

	log := activeLogger()
	if internal {
		log.Error(kind.Title(),
			"id", e.ID,
			"kind", kind.debugString(),
			"stack", e.Stack,
		)
	} else {
		log.Error(kind.Title(),
			"id", e.ID,
			"kind", kind.debugString(),
		)
	}

	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Kind.Message()
}

// Unwrap returns the error wrapped by the kind, if the kind carries one
func (e *Error) Unwrap() error {
	if c, ok := e.Kind.(causer); ok {
		return c.cause()
	}
	return nil
}

func (e *Error) debugString() string {
	return fmt.Sprintf("Error{ID: %q, Kind: %s}", e.ID, e.Kind.debugString())
}

// newID generates a correlation id. Falls back to hex when the nanoid
// generator cannot read randomness, keeping construction infallible.
func newID() string {
	id, err := gonanoid.New(idLength)
	if err == nil {
		return id
	}
	buf := make([]byte, idLength/2)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("0", idLength)
	}
	return hex.EncodeToString(buf)
}

// kindName returns the bare type name of a kind for metrics labels
func kindName(k Kind) string {
	name := fmt.Sprintf("%T", k)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// captureStack captures the current call stack, skipping the specified number of frames
func captureStack(skip int) []StackFrame {
	var frames []StackFrame

	// Capture up to 32 frames
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs) // +2 to skip captureStack and New
	if n == 0 {
		return frames
	}

	pcs = pcs[:n]
	callers := runtime.CallersFrames(pcs)

	for {
		frame, more := callers.Next()
		if frame.Function == "main.main" {
			// Include main.main but stop after it
			frames = append(frames, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})
			break
		}

		// Skip runtime internals
		if strings.HasPrefix(frame.Function, "runtime.") {
			if !more {
				break
			}
			continue
		}

		frames = append(frames, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})

		if !more {
			break
		}
	}

	return frames
}

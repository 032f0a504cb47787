package safe

import (
	"fmt"
	"log/slog"
	"runtime"
)

func Stack() string {
	buf := make([]byte, 2<<20)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

func Recover() {
	if r := recover(); r != nil {
		slog.Error("panic recover",
			slog.Any("value", r), slog.String("stack", Stack()))
	}
}

// RecoverError converts a panic into an error assigned through err.
func RecoverError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v\n%s", r, Stack())
	}
}

func Go(f func()) {
	go func() {
		defer Recover()
		f()
	}()
}

// Call invokes f, containing any panic. Used around application callbacks.
func Call(f func()) {
	defer Recover()
	f()
}

// Package dcontext carries request-scoped values (loggers, trace ids,
// version strings) across the core components the way context.Context is
// meant to be used: values flow down, cancellation flows down, nothing
// flows back up except through return values.
package dcontext

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Background returns a non-nil, empty context, exactly like
// context.Background, but typed to make call sites read as intentionally
// starting a new root context for the engine rather than reusing a stdlib
// one that happened to be lying around.
func Background() context.Context {
	return context.Background()
}

// GetStringValue returns ctx.Value(key) as a string, or "" if absent or of
// another type.
func GetStringValue(ctx context.Context, key any) string {
	v := ctx.Value(key)
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

type versionKey struct{}

func (versionKey) String() string { return "version" }

// WithVersion stores the engine's build version on the context so it can be
// attached to log lines and error reports without threading it through
// every function signature.
func WithVersion(ctx context.Context, version string) context.Context {
	ctx = context.WithValue(ctx, versionKey{}, version)
	return WithLogger(ctx, GetLogger(ctx, versionKey{}))
}

// GetVersion returns the version previously set with WithVersion, or "".
func GetVersion(ctx context.Context) string {
	return GetStringValue(ctx, versionKey{})
}

var traceCounter int64

// WithTrace allocates a trace id (and, if the parent context already carries
// one, a parent trace id) and stashes caller file/line/func and a start
// timestamp on the context. The returned done func logs the elapsed time
// and the given message when called; callers are expected to `defer
// done("message")` immediately after calling WithTrace.
func WithTrace(ctx context.Context) (context.Context, func(format string, a ...any)) {
	parentID := GetStringValue(ctx, "trace.id")
	id := fmt.Sprintf("%s-%d", uuid.NewString(), atomic.AddInt64(&traceCounter, 1))

	ctx = context.WithValue(ctx, "trace.id", id)
	if parentID != "" {
		ctx = context.WithValue(ctx, "trace.parent.id", parentID)
	}

	pc, file, line, _ := runtime.Caller(1)
	funcName := ""
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcName = fn.Name()
	}
	start := time.Now()
	ctx = context.WithValue(ctx, "trace.file", file)
	ctx = context.WithValue(ctx, "trace.line", line)
	ctx = context.WithValue(ctx, "trace.func", funcName)
	ctx = context.WithValue(ctx, "trace.start", start)

	logger := GetLogger(ctx, "trace.id", "trace.parent.id", "trace.func", "trace.file", "trace.line")
	ctx = WithLogger(ctx, logger)

	return ctx, func(format string, a ...any) {
		logger.Debugf("%s (%v)", fmt.Sprintf(format, a...), time.Since(start))
	}
}

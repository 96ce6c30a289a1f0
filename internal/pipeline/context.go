package pipeline

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Faultbox/spriteforge/internal/logger"
)

// Context is the shared surface handed to every plugin.
type Context struct {
	// Production selects slower, smaller artifact encoding.
	Production bool
	// CleanBuild skips staleness comparison: everything rebuilds.
	CleanBuild bool

	Log    *ScopedLogger
	Events *Bus
}

// NewContext builds a Context around the global logger.
func NewContext(production, cleanBuild bool) *Context {
	return &Context{
		Production: production,
		CleanBuild: cleanBuild,
		Log:        NewScopedLogger(),
		Events:     NewBus(),
	}
}

// ScopedLogger decorates the global zap logger with a push/pop scope prefix
// and a running error count. Safe for concurrent use.
type ScopedLogger struct {
	mu     sync.Mutex
	scopes []string
	errs   atomic.Int64
}

// NewScopedLogger returns an empty-scope logger.
func NewScopedLogger() *ScopedLogger {
	return &ScopedLogger{}
}

// Push enters a named scope; messages are prefixed with the scope chain.
func (l *ScopedLogger) Push(scope string) {
	l.mu.Lock()
	l.scopes = append(l.scopes, scope)
	l.mu.Unlock()
}

// Pop leaves the innermost scope.
func (l *ScopedLogger) Pop() {
	l.mu.Lock()
	if len(l.scopes) > 0 {
		l.scopes = l.scopes[:len(l.scopes)-1]
	}
	l.mu.Unlock()
}

func (l *ScopedLogger) prefix() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.scopes) == 0 {
		return ""
	}
	return "[" + strings.Join(l.scopes, "/") + "] "
}

// Infof logs at info level within the current scope.
func (l *ScopedLogger) Infof(format string, args ...interface{}) {
	logger.Sugar.Infof(l.prefix()+format, args...)
}

// Debugf logs at debug level within the current scope.
func (l *ScopedLogger) Debugf(format string, args ...interface{}) {
	logger.Sugar.Debugf(l.prefix()+format, args...)
}

// Warnf logs at warn level within the current scope.
func (l *ScopedLogger) Warnf(format string, args ...interface{}) {
	logger.Sugar.Warnf(l.prefix()+format, args...)
}

// Errorf logs at error level and increments the running error count.
func (l *ScopedLogger) Errorf(format string, args ...interface{}) {
	l.errs.Add(1)
	logger.Sugar.Errorf(l.prefix()+format, args...)
}

// ErrorCount returns the number of errors logged so far. A non-zero count at
// end of run is the pipeline's external failure signal.
func (l *ScopedLogger) ErrorCount() int64 {
	return l.errs.Load()
}

package log

import (
	"io"
	"os"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/patrickmn/go-cache"
)

var loggerCache *cache.Cache
var default_logger_cache_expiry = 6 * time.Hour

// Swappable in tests to capture output.
var logDestination io.Writer = os.Stderr

func init() {
	loggerCache = cache.New(default_logger_cache_expiry, 10*time.Minute)
}

// Permanently add context to the logger. Any future logging for this segment URI will include this context
func AddContext(segmentURI string, keyvals ...interface{}) {
	_ = loggerCache.Add(segmentURI, kitlog.With(getLogger(segmentURI), keyvals...), default_logger_cache_expiry)
}

func Log(segmentURI string, message string, keyvals ...interface{}) {
	_ = kitlog.With(getLogger(segmentURI), "msg", message).Log(keyvals...)
}

// Log in situations where we don't have a segment in hand (startup, poll
// loop, HTTP serving). Should be used with as much context inserted into the
// message as possible
func LogNoSegment(message string, keyvals ...interface{}) {
	_ = kitlog.With(newLogger(), "msg", message).Log(keyvals...)
}

func LogError(segmentURI string, message string, err error, keyvals ...interface{}) {
	msgLogger := kitlog.With(getLogger(segmentURI), "msg", message)
	errLogger := kitlog.With(msgLogger, "err", err.Error())
	_ = errLogger.Log(keyvals...)
}

func getLogger(segmentURI string) kitlog.Logger {
	logger, found := loggerCache.Get(segmentURI)
	if found {
		return logger.(kitlog.Logger)
	}

	newLogger := kitlog.With(newLogger(), "segment", segmentURI)
	err := loggerCache.Add(segmentURI, newLogger, default_logger_cache_expiry)
	if err != nil {
		_ = newLogger.Log("msg", "error adding logger to cache", "segment", segmentURI)
	}
	return newLogger
}

func newLogger() kitlog.Logger {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(logDestination))
	return kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)
}

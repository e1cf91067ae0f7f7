package util

import (
	"log"
	"os"
)

var currentLevel LogLevel = LogLevelInfo

// Memory-management tracing is very chatty and has its own switch on
// top of the debug level.
var memTrace bool

func SetLevel(level LogLevel) {
	currentLevel = level
}

// EnableMemTrace turns on per-segment allocation logging.
func EnableMemTrace(enable bool) {
	memTrace = enable
}

func Debug(format string, v ...interface{}) {
	if currentLevel <= LogLevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

// Mem logs segment allocation and lifecycle events.
func Mem(format string, v ...interface{}) {
	if memTrace && currentLevel <= LogLevelDebug {
		log.Printf("[MEM] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if currentLevel <= LogLevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if currentLevel <= LogLevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if currentLevel <= LogLevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}

func Fatal(format string, v ...interface{}) {
	log.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}

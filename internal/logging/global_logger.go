// Package logging wires logrus into the gateway. It installs the shared
// formatter, bridges Gin's writers into logrus, and switches the global log
// destination between stdout and rotating files.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileName  = "gateway.log"
	logFileMaxMB = 10
)

var (
	setupOnce sync.Once

	outputMu sync.Mutex
	rotator  *lumberjack.Logger

	ginOut *io.PipeWriter
	ginErr *io.PipeWriter
)

// LogFormatter renders entries as "[time] [level] [file:line] message" so
// every line carries its source location.
type LogFormatter struct{}

// Format implements logrus.Formatter.
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buf := entry.Buffer
	if buf == nil {
		buf = &bytes.Buffer{}
	}

	location := "unknown:0"
	if entry.Caller != nil {
		location = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buf.WriteString("[" + entry.Time.Format("2006-01-02 15:04:05") + "]")
	buf.WriteString(" [" + entry.Level.String() + "]")
	buf.WriteString(" [" + location + "] ")
	buf.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// SetupBaseLogger installs the formatter on the shared logrus instance and
// routes Gin's output through it. Repeat calls are no-ops.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})
		bridgeGin()
		log.RegisterExitHandler(closeWriters)
	})
}

// bridgeGin points Gin's default writers and debug printer at logrus so
// framework output shares one format and destination.
func bridgeGin() {
	ginOut = log.StandardLogger().Writer()
	ginErr = log.StandardLogger().WriterLevel(log.ErrorLevel)
	gin.DefaultWriter = ginOut
	gin.DefaultErrorWriter = ginErr
	gin.DebugPrintFunc = func(format string, values ...interface{}) {
		log.StandardLogger().Infof(strings.TrimRight(format, "\r\n"), values...)
	}
}

// ConfigureLogOutput switches the global log destination between rotating
// files under logDir and stdout. An empty logDir falls back to "logs".
func ConfigureLogOutput(loggingToFile bool, logDir string) error {
	SetupBaseLogger()

	outputMu.Lock()
	defer outputMu.Unlock()

	if !loggingToFile {
		closeRotatorLocked()
		log.SetOutput(os.Stdout)
		return nil
	}

	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	closeRotatorLocked()
	rotator = &lumberjack.Logger{
		Filename: filepath.Join(logDir, logFileName),
		MaxSize:  logFileMaxMB,
	}
	log.SetOutput(rotator)
	return nil
}

func closeRotatorLocked() {
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
}

func closeWriters() {
	outputMu.Lock()
	defer outputMu.Unlock()

	closeRotatorLocked()
	if ginOut != nil {
		_ = ginOut.Close()
		ginOut = nil
	}
	if ginErr != nil {
		_ = ginErr.Close()
		ginErr = nil
	}
}

// Copyright 2021-2024, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package genericconf

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var globalFileLogger = &fileLogger{}

// fileLogger hands log records to a background writer through a bounded
// queue. Records are dropped when the queue is full so a slow disk never
// blocks the caller.
type fileLogger struct {
	mutex   sync.Mutex
	writer  *lumberjack.Logger
	records chan []byte
	done    chan struct{}
}

func (l *fileLogger) Write(p []byte) (int, error) {
	record := make([]byte, len(p))
	copy(record, p)
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.records == nil {
		return len(p), nil
	}
	select {
	case l.records <- record:
	default:
	}
	return len(p), nil
}

func (l *fileLogger) open(config *FileLoggingConfig, filename string) io.Writer {
	writer := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		LocalTime:  config.LocalTime,
		Compress:   config.Compress,
	}
	bufSize := config.BufSize
	if bufSize <= 0 {
		bufSize = 1
	}
	records := make(chan []byte, bufSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for record := range records {
			_, _ = writer.Write(record)
		}
	}()
	l.mutex.Lock()
	l.writer, l.records, l.done = writer, records, done
	l.mutex.Unlock()
	return l
}

// close drains queued records and closes the current file.
func (l *fileLogger) close() error {
	l.mutex.Lock()
	writer, records, done := l.writer, l.records, l.done
	l.writer, l.records, l.done = nil, nil, nil
	l.mutex.Unlock()
	if records == nil {
		return nil
	}
	close(records)
	<-done
	return writer.Close()
}

// InitLog replaces the default logger. It is not safe to call concurrently.
func InitLog(logType string, logLevel string, fileLoggingConfig *FileLoggingConfig, pathResolver func(string) string) error {
	if err := globalFileLogger.close(); err != nil {
		return fmt.Errorf("failed to close file writer: %w", err)
	}
	var output io.Writer = os.Stderr
	if fileLoggingConfig.Enable {
		output = io.MultiWriter(os.Stderr, globalFileLogger.open(fileLoggingConfig, pathResolver(fileLoggingConfig.File)))
	}
	handler, err := HandlerFromLogType(logType, output)
	if err != nil {
		return fmt.Errorf("error parsing log type when creating handler: %w", err)
	}
	slogLevel, err := ToSlogLevel(logLevel)
	if err != nil {
		return fmt.Errorf("error parsing log level: %w", err)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(slogLevel)
	log.SetDefault(log.NewLogger(glogger))
	return nil
}

// CloseLog flushes and closes the file logger, if any.
func CloseLog() error {
	return globalFileLogger.close()
}

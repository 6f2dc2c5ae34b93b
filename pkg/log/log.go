// SPDX-License-Identifier: GPL-2.0-or-later

package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// ErrUnknownLevel unknown log level name.
var ErrUnknownLevel = errors.New("unknown log level")

// ParseLevel converts level name to Level.
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(name) {
	case "error":
		return LevelError, nil
	case "warning", "warn":
		return LevelWarning, nil
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLevel, name)
}

// UnixMicro .
type UnixMicro uint64

// Event defines log event.
type Event struct {
	level Level
	time  UnixMicro // Timestamp.
	src   string    // Source.
	video string    // Source video path.

	logger *Logger
}

// Log defines log entry.
type Log struct {
	Level Level
	Time  UnixMicro // Timestamp.
	Msg   string    // Message
	Src   string    // Source.
	Video string    // Source video path.
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Video sets the video the event is about.
func (e *Event) Video(path string) *Event {
	e.video = path
	return e
}

// Msg sends the *Event with msg added as the message field.
// Events below the logger level are dropped.
func (e *Event) Msg(msg string) {
	if e.level > e.logger.Level() {
		return
	}
	log := Log{
		Time:  e.time,
		Level: e.level,
		Msg:   msg,
		Src:   e.src,
		Video: e.video,
	}

	select {
	case e.logger.feed <- log:
	case <-e.logger.done:
	}
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed defines feed of logs.
type Feed <-chan Log
type logFeed chan Log

// Logger logs.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	// Closed when the logger has stopped.
	done chan struct{}

	level Level
	mu    sync.Mutex
	wg    *sync.WaitGroup
}

// NewLogger returns Logger, call Start to begin processing events.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
		done:  make(chan struct{}),
		level: LevelInfo,
		wg:    wg,
	}
}

// NewMockLogger used for testing, all events are discarded.
func NewMockLogger() *Logger {
	l := NewLogger(&sync.WaitGroup{})
	close(l.done)
	return l
}

// SetLevel sets the most verbose level that is logged.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// Level returns the most verbose level that is logged.
func (l *Logger) Level() Level {
	defer l.mu.Unlock()
	l.mu.Lock()
	return l.level
}

// Start logger.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				close(l.done)
				for ch := range subs {
					close(ch)
				}
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
}

// CancelFunc cancels log feed subsciption.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		close(feed)
		return feed, func() {}
	}

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-l.done:
			return
		case <-feed:
		}
	}
}

// LogToWriter prints the log feed to w. The subscription is made
// before returning, the returned function stops printing after
// every event accepted so far has been written.
func (l *Logger) LogToWriter(w io.Writer) func() {
	feed := make(logFeed)
	select {
	case l.sub <- feed:
	case <-l.done:
		return func() {}
	}

	printed := make(chan struct{})
	go func() {
		for log := range feed {
			fmt.Fprintln(w, formatLog(log))
		}
		close(printed)
	}()

	return func() {
		select {
		case l.unsub <- feed:
		case <-l.done:
		}
		<-printed
	}
}

func formatLog(log Log) string {
	var output string

	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if log.Video != "" {
		output += log.Video + ": "
	}
	if log.Src != "" {
		output += strings.ToUpper(log.Src[:1]) + log.Src[1:] + ": "
	}

	return output + log.Msg
}

func (l *Logger) newEvent(level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMicro(time.Now().UnixMicro()),
		logger: l,
	}
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event {
	return l.newEvent(LevelError)
}

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event {
	return l.newEvent(LevelWarning)
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event {
	return l.newEvent(LevelInfo)
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event {
	return l.newEvent(LevelDebug)
}

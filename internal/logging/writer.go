package logging

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
	"github.com/google/uuid"
)

// maxMessages bounds the in-memory log history.
const maxMessages = 1000

type Attr struct {
	Key   string
	Value string
}

type LogMessage struct {
	ID         string
	Time       time.Time
	Level      string
	Message    string `json:"msg"`
	Attributes []Attr
}

type LogData struct {
	messages    []LogMessage
	subscribers map[chan LogMessage]struct{}
	lock        sync.Mutex
}

func (l *LogData) Add(msg LogMessage) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.messages = append(l.messages, msg)
	if len(l.messages) > maxMessages {
		l.messages = l.messages[len(l.messages)-maxMessages:]
	}
	for ch := range l.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (l *LogData) List() []LogMessage {
	l.lock.Lock()
	defer l.lock.Unlock()
	out := make([]LogMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *LogData) subscribe(ctx context.Context) <-chan LogMessage {
	ch := make(chan LogMessage, 64)
	l.lock.Lock()
	l.subscribers[ch] = struct{}{}
	l.lock.Unlock()

	go func() {
		<-ctx.Done()
		l.lock.Lock()
		delete(l.subscribers, ch)
		l.lock.Unlock()
		close(ch)
	}()
	return ch
}

var defaultLogData = &LogData{
	messages:    make([]LogMessage, 0),
	subscribers: make(map[chan LogMessage]struct{}),
}

// writer decodes slog TextHandler output and records it in memory.
type writer struct{}

func (w *writer) Write(p []byte) (int, error) {
	d := logfmt.NewDecoder(bytes.NewReader(p))
	for d.ScanRecord() {
		msg := LogMessage{
			ID:   uuid.NewString(),
			Time: time.Now(),
		}
		for d.ScanKeyval() {
			switch string(d.Key()) {
			case "time":
				parsed, err := time.Parse(time.RFC3339, string(d.Value()))
				if err == nil {
					msg.Time = parsed
				}
			case "level":
				msg.Level = strings.ToLower(string(d.Value()))
			case "msg":
				msg.Message = string(d.Value())
			default:
				msg.Attributes = append(msg.Attributes, Attr{
					Key:   string(d.Key()),
					Value: string(d.Value()),
				})
			}
		}
		defaultLogData.Add(msg)
	}
	if d.Err() != nil {
		return 0, d.Err()
	}
	return len(p), nil
}

func NewWriter() *writer {
	return &writer{}
}

// List returns the recorded log messages, oldest first.
func List() []LogMessage {
	return defaultLogData.List()
}

// Subscribe streams log messages recorded after the call until ctx is done.
func Subscribe(ctx context.Context) <-chan LogMessage {
	return defaultLogData.subscribe(ctx)
}

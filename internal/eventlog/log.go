// Package eventlog keeps the rolling text log shown to the user: the most recent entries in
// a capped Redis list.
package eventlog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultKey        = "stridewatch:log"
	DefaultMaxEntries = 250

	hookTimeout = time.Second
)

type Log struct {
	rdb        *redis.Client
	key        string
	maxEntries int64
}

func NewLog(rdb *redis.Client, key string, maxEntries int) *Log {
	if key == "" {
		key = DefaultKey
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{
		rdb:        rdb,
		key:        key,
		maxEntries: int64(maxEntries),
	}
}

// Append adds an entry and drops the oldest ones beyond the cap.
func (l *Log) Append(ctx context.Context, entry string) error {
	_, err := l.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, l.key, entry)
		pipe.LTrim(ctx, l.key, 0, l.maxEntries-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// Entries returns the log, oldest entry first.
func (l *Log) Entries(ctx context.Context) ([]string, error) {
	entries, err := l.rdb.LRange(ctx, l.key, 0, l.maxEntries-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read log entries: %w", err)
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (l *Log) Clear(ctx context.Context) error {
	return l.rdb.Del(ctx, l.key).Err()
}

// Hook mirrors info and more severe logrus entries into the log.
type Hook struct {
	log *Log
}

func NewHook(l *Log) *Hook {
	return &Hook{log: l}
}

func (h *Hook) Levels() []log.Level {
	return []log.Level{
		log.PanicLevel,
		log.FatalLevel,
		log.ErrorLevel,
		log.WarnLevel,
		log.InfoLevel,
	}
}

func (h *Hook) Fire(entry *log.Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	// must not log from here, the hook would fire again
	return h.log.Append(ctx, FormatEntry(entry))
}

func FormatEntry(entry *log.Entry) string {
	return fmt.Sprintf(
		"%s [%s] %s",
		entry.Time.Format("2006-01-02 15:04:05"),
		strings.ToUpper(entry.Level.String()),
		entry.Message,
	)
}

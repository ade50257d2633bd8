// Package queue persists operator messages that arrive while a session is
// busy. Each window has its own append-only JSONL file that is rewritten
// when messages are taken off it.
package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Message struct {
	Seq      int64     `json:"seq"`
	Text     string    `json:"text"`
	QueuedAt time.Time `json:"ts"`
}

type Queue struct {
	path     string
	maxSize  int
	messages []Message
	nextSeq  int64
	skipped  int
	mu       sync.Mutex
	append   *os.File
}

// FileName is the queue file for window "w4".
func FileName(window string) string {
	return "queue_" + window + ".jsonl"
}

func NewQueue(stateDir, window string, maxSize int) (*Queue, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	q := &Queue{
		path:    filepath.Join(stateDir, FileName(window)),
		maxSize: maxSize,
		nextSeq: 1,
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	file, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open queue file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			q.skipped++
			continue
		}
		q.messages = append(q.messages, msg)
		if msg.Seq >= q.nextSeq {
			q.nextSeq = msg.Seq + 1
		}
	}
	return scanner.Err()
}

// Skipped is the number of unreadable lines dropped while loading.
func (q *Queue) Skipped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.skipped
}

func (q *Queue) openAppend() error {
	if q.append != nil {
		return nil
	}
	file, err := os.OpenFile(q.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open queue file for append: %w", err)
	}
	q.append = file
	return nil
}

func (q *Queue) appendMessage(msg Message) error {
	if err := q.openAppend(); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = q.append.Write(data)
	return err
}

// compact rewrites the file from memory via tmp + rename. An empty queue
// removes the file.
func (q *Queue) compact() error {
	if q.append != nil {
		_ = q.append.Close()
		q.append = nil
	}
	if len(q.messages) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}

	tmpPath := q.path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create queue file: %w", err)
	}
	w := bufio.NewWriter(file)
	for _, msg := range q.messages {
		data, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, q.path)
}

// Push appends text. When the queue is full the oldest message is dropped.
func (q *Queue) Push(text string, at time.Time) (Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := Message{Seq: q.nextSeq, Text: text, QueuedAt: at}
	q.nextSeq++

	needsCompact := q.skipped > 0
	if q.maxSize > 0 && len(q.messages) >= q.maxSize {
		q.messages = q.messages[1:]
		needsCompact = true
	}
	q.messages = append(q.messages, msg)
	if needsCompact {
		q.skipped = 0
		return msg, q.compact()
	}
	return msg, q.appendMessage(msg)
}

// List returns the queued messages in FIFO order without removing them.
func (q *Queue) List() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]Message, len(q.messages))
	copy(result, q.messages)
	return result
}

// Drain removes and returns every queued message.
func (q *Queue) Drain() ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.messages
	q.messages = nil
	return out, q.compact()
}

// AckUpto removes messages with Seq <= seq, keeping anything queued after a
// flush was started.
func (q *Queue) AckUpto(seq int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]Message, 0, len(q.messages))
	for _, msg := range q.messages {
		if msg.Seq > seq {
			kept = append(kept, msg)
		}
	}
	if len(kept) == len(q.messages) {
		return nil
	}
	q.messages = kept
	return q.compact()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.append == nil {
		return nil
	}
	err := q.append.Close()
	q.append = nil
	return err
}

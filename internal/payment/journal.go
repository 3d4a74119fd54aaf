package payment

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// JournalEntry is one verified (or rejected) claim, recorded for later
// settlement and audit.
type JournalEntry struct {
	ChannelID string    `json:"channel_id"`
	Peer      string    `json:"peer"`
	Amount    uint64    `json:"amount"`
	Nonce     uint64    `json:"nonce"`
	Valid     bool      `json:"valid"`
	Reason    Reason    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Journal is an append-only JSONL file of claim verifications. One line per
// entry; a corrupt line is skipped on read, never fatal.
type Journal struct {
	path string
}

func NewJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("missing path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &Journal{path: path}, nil
}

func (j *Journal) Append(e JournalEntry) error {
	if j == nil || j.path == "" {
		return fmt.Errorf("missing journal")
	}
	if e.ChannelID == "" {
		return fmt.Errorf("missing channel id")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(e)
}

func (j *Journal) List(limit int) ([]JournalEntry, error) {
	if j == nil || j.path == "" {
		return nil, fmt.Errorf("missing journal")
	}
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	if limit <= 0 {
		limit = 100
	}
	out := make([]JournalEntry, 0, limit)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return out, err
	}
	return out, nil
}

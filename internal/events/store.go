// Package events keeps the per-battle event journal: one append-only JSONL
// file per battle, each line prefixed with a ULID so readers can resume
// after a known event.
package events

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var battleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

const idLen = ulid.EncodedSize

type Store struct {
	RootDir string
}

type Record struct {
	ID      string `json:"id"`
	Payload string `json:"payload"`
}

// Open creates the journal directory if needed.
func Open(rootDir string) (*Store, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create events dir: %w", err)
	}
	return &Store{RootDir: rootDir}, nil
}

func (s *Store) filePath(battleID string) string {
	return filepath.Join(s.RootDir, battleIDSanitizer.ReplaceAllString(battleID, "_")+".jsonl")
}

func (s *Store) lockPath(battleID string) string {
	return filepath.Join(s.RootDir, battleIDSanitizer.ReplaceAllString(battleID, "_")+".lock")
}

const (
	lockStaleDuration = 30 * time.Second
	lockTimeout       = 10 * time.Second
	lockPollInterval  = 8 * time.Millisecond
)

func (s *Store) withBattleLock(battleID string, fn func() error) error {
	lock := s.lockPath(battleID)
	deadline := time.Now().Add(lockTimeout)
	for {
		err := os.Mkdir(lock, 0o755)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		// A lock older than lockStaleDuration belongs to a dead writer.
		if info, statErr := os.Stat(lock); statErr == nil && time.Since(info.ModTime()) > lockStaleDuration {
			_ = os.RemoveAll(lock)
			continue
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out acquiring journal lock for battle %s", battleID)
		}
		time.Sleep(lockPollInterval)
	}
	defer os.RemoveAll(lock)
	return fn()
}

// Append writes payload as a single journal line and returns its event id.
// Payloads must not contain newlines.
func (s *Store) Append(battleID, payload string) (string, error) {
	if strings.ContainsAny(payload, "\r\n") {
		return "", errors.New("journal payload must be a single line")
	}
	var eventID string
	err := s.withBattleLock(battleID, func() error {
		// Minted under the lock so file order matches id order.
		eventID = ulid.Make().String()
		f, err := os.OpenFile(s.filePath(battleID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = f.WriteString(eventID + ":" + payload + "\n")
		return err
	})
	if err != nil {
		return "", err
	}
	return eventID, nil
}

// ReadRecords returns the whole journal of a battle in append order. A
// battle that never recorded anything has an empty journal.
func (s *Store) ReadRecords(battleID string) ([]Record, error) {
	return s.ReadSince(battleID, "")
}

// ReadSince returns the records strictly after lastID. ULIDs sort by time,
// so an unknown lastID still yields everything newer than it.
func (s *Store) ReadSince(battleID, lastID string) ([]Record, error) {
	f, err := os.Open(s.filePath(battleID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, err
	}
	defer f.Close()

	records := make([]Record, 0, 32)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) <= idLen || line[idLen] != ':' {
			continue
		}
		id := line[:idLen]
		if lastID != "" && id <= lastID {
			continue
		}
		records = append(records, Record{ID: id, Payload: line[idLen+1:]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) Read(battleID string) ([]string, error) {
	records, err := s.ReadRecords(battleID)
	if err != nil {
		return nil, err
	}
	payloads := make([]string, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, record.Payload)
	}
	return payloads, nil
}

func (s *Store) Cleanup() error {
	return os.RemoveAll(s.RootDir)
}

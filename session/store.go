package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// Record is one session credential record as produced by the external login
// tool. Records arrive one JSON object per line, append-only.
type Record struct {
	Kind      string `json:"kind"`
	Username  string `json:"username"`
	ID        string `json:"id"`
	AuthToken string `json:"auth_token"`
	CT0       string `json:"ct0"`
}

// AuditRecord is appended when the pool permanently invalidates a session.
// Existing records are never rewritten in place.
type AuditRecord struct {
	InvalidatedAt time.Time `json:"invalidated_at"`
	Kind          string    `json:"kind"`
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Reason        string    `json:"reason"`
}

// Store reads and appends session records, backed by either a local file or
// a Cloud Storage object.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	object    string
	mu        sync.Mutex // serializes appends
}

// NewStore creates a session record store. When localPath is non-empty it
// takes precedence over the Cloud Storage bucket/object pair.
func NewStore(client *storage.Client, bucket, object, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
		object:    object,
	}
}

// Load reads every session record from the source. Malformed lines and
// unknown kinds are logged and skipped, never fatal: the record source is
// written by an external tool and may grow (or rot) at any time.
func (s *Store) Load(ctx context.Context) ([]Record, error) {
	data, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	var recs []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("Skipping malformed session record", "line", line, "error", err)
			continue
		}
		switch rec.Kind {
		case "cookie":
			if rec.ID == "" || rec.AuthToken == "" || rec.CT0 == "" {
				s.logger.Warn("Skipping incomplete session record", "line", line, "username", rec.Username)
				continue
			}
			recs = append(recs, rec)
		case "audit":
			// Our own invalidation entries; not credentials.
		default:
			s.logger.Warn("Skipping session record with unknown kind", "line", line, "kind", rec.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan session records: %w", err)
	}

	s.logger.Info("Session records loaded", "count", len(recs))
	return recs, nil
}

// AppendAudit appends one audit entry to the record source.
func (s *Store) AppendAudit(ctx context.Context, rec AuditRecord) error {
	rec.Kind = "audit"
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	line := append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	// Local filesystem storage
	if s.localPath != "" {
		f, err := os.OpenFile(s.localPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open session file for append: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil {
				s.logger.Warn("Failed to close session file", "error", closeErr)
			}
		}()
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("append audit record: %w", err)
		}
		return nil
	}

	// Cloud Storage has no append; rewrite the object with the entry added.
	existing, err := s.read(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("read before append: %w", err)
	}
	combined := append(existing, line...)

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(s.object).NewWriter(ctx)
			if _, writeErr := w.Write(combined); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write session records: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying audit append after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("append after retries: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	// Local filesystem storage
	if s.localPath != "" {
		data, err := os.ReadFile(s.localPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("session file %s: %w", s.localPath, storage.ErrObjectNotExist)
			}
			return nil, fmt.Errorf("read session file: %w", err)
		}
		return data, nil
	}

	// Cloud Storage with retry logic for reliability
	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read session records: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying session load after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

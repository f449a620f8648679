// Package feedback stores user ratings of companion replies.
//
// Ratings are appended as JSON lines to a local file, matching the app's
// offline-first storage posture: no network, nothing leaves the device until
// the user chooses to share it.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Rating is one user verdict on a companion reply.
type Rating struct {
	// SessionID identifies the conversation the rated reply belongs to.
	SessionID int64 `json:"session_id"`

	// UserID identifies who rated.
	UserID string `json:"user_id"`

	// PersonaID names the persona that produced the reply.
	PersonaID string `json:"persona_id"`

	// Score is the user's rating from 1 (unhelpful) to 5 (very helpful).
	Score int `json:"score"`

	// Comment is optional free-text feedback.
	Comment string `json:"comment,omitempty"`
}

// Record is a [Rating] as written to the file, stamped at save time.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Rating
}

// FileStore persists ratings as JSON lines in a local file.
// Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore writing to path. The file is created on
// first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends a rating to the file.
func (fs *FileStore) Save(r Rating) error {
	if r.Score < 1 || r.Score > 5 {
		return fmt.Errorf("feedback: score %d out of range 1-5", r.Score)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.Marshal(Record{Timestamp: time.Now().UTC(), Rating: r})
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}

// Package store keeps a local mirror of completed voice turns: one JSONL
// history file per conversation plus the captured audio as WAV, for offline
// review independent of the backend's recordings service.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/user/voice-console/internal/session"
)

type FileStore struct {
	baseDir string
}

func NewFileStore(baseDir string) (*FileStore, error) {
	historyDir := filepath.Join(baseDir, "history")
	audioDir := filepath.Join(baseDir, "audio")

	if err := os.MkdirAll(historyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}

	return &FileStore{baseDir: baseDir}, nil
}

// AppendExchange adds one completed turn to the conversation's history file.
func (s *FileStore) AppendExchange(conversationID string, exchange session.Exchange) error {
	if conversationID == "" {
		conversationID = "unassigned"
	}
	path := filepath.Join(s.baseDir, "history", conversationID+".jsonl")

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(exchange); err != nil {
		return fmt.Errorf("failed to encode exchange: %w", err)
	}

	log.Debug().
		Str("conversation_id", conversationID).
		Str("session_id", exchange.SessionID).
		Msg("Saved exchange")

	return nil
}

// LoadHistory reads a conversation's exchanges back in order.
func (s *FileStore) LoadHistory(conversationID string) ([]session.Exchange, error) {
	path := filepath.Join(s.baseDir, "history", conversationID+".jsonl")

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	var exchanges []session.Exchange
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var exchange session.Exchange
		if err := decoder.Decode(&exchange); err != nil {
			return nil, fmt.Errorf("failed to decode exchange: %w", err)
		}
		exchanges = append(exchanges, exchange)
	}

	return exchanges, nil
}

// SaveAudio writes a captured clip's WAV bytes and returns the path.
func (s *FileStore) SaveAudio(sessionID string, wavData []byte) (string, error) {
	path := filepath.Join(s.baseDir, "audio", sessionID+".wav")

	if err := os.WriteFile(path, wavData, 0644); err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	log.Debug().
		Str("session_id", sessionID).
		Int("size", len(wavData)).
		Msg("Saved audio")

	return path, nil
}

// Package backend is the HTTP client for the housing-authority agent
// service. Every endpoint is a relative path under one base URL; any non-2xx
// status is a uniform call failure carrying the optional message field, the
// client never interprets structured error bodies beyond that.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds every backend call. The service itself imposes no
// deadline, so an unbounded wait would hang a session in Processing forever.
const DefaultTimeout = 30 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Health reports whether the backend is reachable.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Transcribe uploads captured audio as the multipart `audio` field and
// returns the transcript. An empty transcript is a valid result, not an
// error; the caller owns the nothing-was-said case.
func (c *Client) Transcribe(ctx context.Context, wavData []byte, filename string) (*TranscribeResponse, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/speech-to-text", body)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result TranscribeResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	log.Debug().
		Str("transcript", result.Transcript).
		Int("audio_bytes", len(wavData)).
		Msg("Transcription completed")

	return &result, nil
}

// Chat runs one full agent turn.
func (c *Client) Chat(ctx context.Context, chatReq ChatRequest) (*ChatResponse, error) {
	var result ChatResponse
	if err := c.postJSON(ctx, "/chat", chatReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AgentChat runs the hybrid voice turn.
func (c *Client) AgentChat(ctx context.Context, chatReq AgentChatRequest) (*AgentChatResponse, error) {
	var result AgentChatResponse
	if err := c.postJSON(ctx, "/voice/agent-chat", chatReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Synthesize converts text to speech with the given agent's voice preset and
// returns the decoded audio bytes.
func (c *Client) Synthesize(ctx context.Context, text, agent string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("agent", agent)
	params.Set("return_base64", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/voice/synthesize?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	var result struct {
		AudioBase64 string `json:"audio_base64"`
		Error       string `json:"error,omitempty"`
	}
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("synthesize: %s", result.Error)
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("synthesize payload: %w", err)
	}
	return audio, nil
}

// SaveRecording uploads a finished capture and its turn metadata for
// server-side persistence.
func (c *Client) SaveRecording(ctx context.Context, saveReq SaveRecordingRequest) (*RecordingResponse, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	filename := saveReq.Filename
	if filename == "" {
		filename = "recording.wav"
	}
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if _, err := part.Write(saveReq.Audio); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}

	fields := map[string]string{
		"conversation_id": saveReq.ConversationID,
		"user_id":         saveReq.UserID,
		"transcript":      saveReq.Transcript,
		"agent_response":  saveReq.AgentResponse,
		"language":        saveReq.Language,
	}
	if saveReq.Duration > 0 {
		fields["duration"] = strconv.FormatFloat(saveReq.Duration, 'f', 3, 64)
	}
	if saveReq.ConfidenceScore > 0 {
		fields["confidence_score"] = strconv.FormatFloat(saveReq.ConfidenceScore, 'f', 3, 64)
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("multipart: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recordings/save", body)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var result RecordingResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListRecordings returns recording metadata, optionally filtered.
func (c *Client) ListRecordings(ctx context.Context, conversationID, userID string, limit int) ([]RecordingMetadata, error) {
	params := url.Values{}
	if conversationID != "" {
		params.Set("conversation_id", conversationID)
	}
	if userID != "" {
		params.Set("user_id", userID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	endpoint := c.baseURL + "/recordings"
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}

	var result []RecordingMetadata
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetRecording fetches one recording's metadata plus its audio bytes.
func (c *Client) GetRecording(ctx context.Context, id string) (*RecordingMetadata, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/recordings/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("request: %w", err)
	}

	var result struct {
		RecordingID string             `json:"recording_id"`
		AudioBase64 string             `json:"audio_base64"`
		Metadata    *RecordingMetadata `json:"metadata"`
		Error       string             `json:"error,omitempty"`
	}
	if err := c.do(req, &result); err != nil {
		return nil, nil, err
	}
	if result.Error != "" {
		return nil, nil, fmt.Errorf("get recording: %s", result.Error)
	}

	audio, err := base64.StdEncoding.DecodeString(result.AudioBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("recording payload: %w", err)
	}
	return result.Metadata, audio, nil
}

// DeleteRecording removes one recording.
func (c *Client) DeleteRecording(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/recordings/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}

	var result struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}
	if err := c.do(req, &result); err != nil {
		return err
	}
	if result.Status != "success" {
		return fmt.Errorf("delete recording: %s", result.Message)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend status %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// errorMessage pulls the optional message field out of an error body.
func errorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))

	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Error != "":
			return parsed.Error
		case parsed.Detail != "":
			return parsed.Detail
		}
	}
	return strings.TrimSpace(string(raw))
}

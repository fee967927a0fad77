package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/logger"
)

const selectorPrompt = `You are an expert video editor creating short clips from interview content.
Analyze the JSON transcript and select up to 5 compelling clips of roughly 20 seconds each.
Use only exact text from the transcript. Combine fragments from any parts in any order.
Return ONLY a JSON array of objects: {"title": string, "fragments": [{"start": number, "end": number, "text": string}]}.
Transcript:
`

// LLMSelector asks an OpenAI-compatible chat endpoint to pick clips.
// Selection failures degrade to an empty clip list rather than an error:
// a job with nothing worth cutting is still a successful job.
type LLMSelector struct {
	APIURL     string
	APIKey     string
	Model      string
	httpClient *http.Client
}

// NewLLMSelector creates a selector against the given chat-completions endpoint
func NewLLMSelector(apiURL, apiKey, model string) *LLMSelector {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &LLMSelector{
		APIURL:     apiURL,
		APIKey:     apiKey,
		Model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// SelectClips sends the transcript to the model and parses its clip list
func (s *LLMSelector) SelectClips(ctx context.Context, transcript []Segment) ([]Clip, error) {
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return nil, err
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: s.Model,
		Messages: []chatMessage{
			{Role: "user", Content: selectorPrompt + string(transcriptJSON)},
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		logger.Warnf("clip selection call failed, treating as no clips: %v", err)
		return nil, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		logger.Warnf("clip selection returned status %d, treating as no clips", resp.StatusCode)
		return nil, nil
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || len(parsed.Choices) == 0 {
		logger.Warnf("clip selection response unreadable, treating as no clips")
		return nil, nil
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")

	var clips []Clip
	if err := json.Unmarshal([]byte(content), &clips); err != nil {
		logger.Warnf("clip selection output is not valid JSON, treating as no clips")
		return nil, nil
	}
	return clips, nil
}

// String identifies the selector configuration in logs
func (s *LLMSelector) String() string {
	return fmt.Sprintf("llm-selector(%s)", s.Model)
}

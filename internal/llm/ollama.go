package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Ollama talks to a locally running Ollama server. Responses are streamed
// chunk by chunk: the idle timeout applies per chunk and resets on progress,
// so a slow model on weak hardware never trips a whole-response deadline.
type Ollama struct {
	model    string
	baseURL  string
	timeouts Timeouts
	client   *http.Client
	logger   *zap.Logger
}

// NewOllama creates an Ollama provider.
func NewOllama(model, baseURL string, to Timeouts, logger *zap.Logger) *Ollama {
	return &Ollama{
		model:    model,
		baseURL:  baseURL,
		timeouts: to,
		client: &http.Client{
			// No overall timeout: the per-chunk watchdog bounds reads.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: to.Connect}).DialContext,
			},
		},
		logger: logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Generate streams a chat completion and accumulates the chunks.
func (o *Ollama) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   true,
		Options: map[string]any{
			"temperature": opts.Temperature,
			"num_predict": opts.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	// Watchdog: cancel the request if no chunk arrives within the idle
	// window. Reset on every line so partial progress keeps the call alive.
	idle := o.timeouts.ReadIdle
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	watchdog := time.AfterFunc(idle, cancel)
	defer watchdog.Stop()

	var out bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		watchdog.Reset(idle)
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			o.logger.Debug("Skipping malformed ollama chunk", zap.Error(err))
			continue
		}
		out.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		// Keep nothing on a broken stream only when nothing arrived.
		if out.Len() == 0 {
			return "", fmt.Errorf("ollama stream read: %w", err)
		}
		o.logger.Warn("Ollama stream ended early, keeping partial output", zap.Error(err))
	}
	return out.String(), nil
}

// IsAvailable pings the tags endpoint.
func (o *Ollama) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns model names the server has pulled.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama tags call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var payload struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	names := make([]string, 0, len(payload.Models))
	for _, m := range payload.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

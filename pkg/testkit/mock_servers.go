package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
)

// MockListingText is the completion every mock server returns unless the
// prompt contains "fail".
const MockListingText = "Title: Mock Listing\n\nA mock description.\n- First perk\n- Second perk\nTags: mock, test"

// MockAnthropicServer emulates the Anthropic Messages API.
func MockAnthropicServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var request struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
			MaxTokens int `json:"max_tokens"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		prompt := ""
		if len(request.Messages) > 0 && len(request.Messages[0].Content) > 0 {
			prompt = request.Messages[0].Content[0].Text
		}
		if strings.Contains(prompt, "fail") {
			http.Error(w, `{"type":"error","error":{"type":"invalid_request_error","message":"mock failure"}}`, http.StatusBadRequest)
			return
		}

		writeJSON(w, map[string]any{
			"id":    "msg_mock_12345",
			"type":  "message",
			"role":  "assistant",
			"model": request.Model,
			"content": []map[string]any{
				{"type": "text", "text": MockListingText},
			},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  100,
				"output_tokens": 200,
			},
		})
	}))
}

// MockOpenAIServer emulates the OpenAI Responses API.
func MockOpenAIServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var request struct {
			Model string `json:"model"`
			Input string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		writeJSON(w, map[string]any{
			"id":         "resp_mock12345",
			"object":     "response",
			"created_at": 1699999999,
			"status":     "completed",
			"model":      request.Model,
			"output": []map[string]any{{
				"type":   "message",
				"id":     "msg_mock12345",
				"status": "completed",
				"role":   "assistant",
				"content": []map[string]any{{
					"type":        "output_text",
					"text":        MockListingText,
					"annotations": []any{},
				}},
			}},
		})
	}))
}

// MockOllamaServer emulates the Ollama chat endpoint without streaming.
func MockOllamaServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		var request struct {
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]any{
			"model": request.Model,
			"message": map[string]any{
				"role":    "assistant",
				"content": MockListingText,
			},
			"done":        true,
			"done_reason": "stop",
		})
	}))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

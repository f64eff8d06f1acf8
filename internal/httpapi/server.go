package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manifold-ai/manifold/internal/config"
)

// Answerer produces one complete answer for one question. Satisfied by
// engine.Engine.
type Answerer interface {
	Handle(ctx context.Context, question string) (string, error)
}

// streamChunkSize is the number of runes per SSE content delta when the
// complete answer is re-chunked for streaming clients.
const streamChunkSize = 50

// Handler serves the OpenAI-compatible public API. The whole pipeline runs
// before the first byte of a streaming response; streaming re-chunks the
// finished answer, it does not expose intermediate reasoning.
type Handler struct {
	engine  Answerer
	service config.ServiceConfig
	logger  *zap.Logger
}

func NewHandler(eng Answerer, service config.ServiceConfig, logger *zap.Logger) *Handler {
	return &Handler{engine: eng, service: service, logger: logger}
}

// RegisterRoutes registers the public API routes on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/chat/completions", h.handleChatCompletions)
	mux.HandleFunc("/v1/models", h.handleListModels)
	mux.HandleFunc("/health", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"model":  h.service.ModelName,
	})
}

// handleListModels reports the single virtual model this service fronts.
// GET /v1/models
func (h *Handler) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}
	writeJSON(w, http.StatusOK, modelList{
		Object: "list",
		Data: []modelEntry{{
			ID:      h.service.ModelName,
			Object:  "model",
			Created: time.Now().Unix(),
			OwnedBy: "organization",
		}},
	})
}

// handleChatCompletions runs the full reasoning pipeline for the last user
// message and answers in OpenAI chat-completion format.
// POST /v1/chat/completions
func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages is required", "invalid_request_error")
		return
	}
	question := req.Messages[len(req.Messages)-1].Content
	if strings.TrimSpace(question) == "" {
		writeError(w, http.StatusBadRequest, "last message has no content", "invalid_request_error")
		return
	}

	requestID := "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	h.logger.Info("Chat completion request",
		zap.String("request_id", requestID),
		zap.Bool("stream", req.Stream),
		zap.Int("question_length", len(question)),
	)

	answer, err := h.engine.Handle(r.Context(), question)
	if err != nil {
		h.logger.Error("Chat completion failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, err.Error(), "internal_error")
		return
	}

	model := req.Model
	if model == "" {
		model = h.service.ModelName
	}

	if req.Stream {
		h.streamAnswer(w, r, requestID, model, answer)
		return
	}

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4
	}
	writeJSON(w, http.StatusOK, chatCompletionResponse{
		ID:      requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      chatMessage{Role: "assistant", Content: answer},
			FinishReason: "stop",
		}},
		Usage: usage{
			PromptTokens:     promptTokens,
			CompletionTokens: len(answer) / 4,
			TotalTokens:      promptTokens + len(answer)/4,
		},
	})
}

// streamAnswer replays a complete answer as an SSE chat-completion stream:
// one role delta, content deltas of streamChunkSize runes, a stop chunk and
// the [DONE] sentinel.
func (h *Handler) streamAnswer(w http.ResponseWriter, r *http.Request, requestID, model, answer string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	created := time.Now().Unix()
	writeChunk := func(c chatCompletionChunk) {
		data, err := json.Marshal(c)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	writeChunk(chatCompletionChunk{
		ID: requestID, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []streamChoice{{Delta: streamDelta{Role: "assistant"}}},
	})

	runes := []rune(answer)
	ctx := r.Context()
	for i := 0; i < len(runes); i += streamChunkSize {
		if ctx.Err() != nil {
			h.logger.Info("SSE client disconnected", zap.String("request_id", requestID))
			return
		}
		end := i + streamChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		writeChunk(chatCompletionChunk{
			ID: requestID, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []streamChoice{{Delta: streamDelta{Content: string(runes[i:end])}}},
		})
	}

	stop := "stop"
	writeChunk(chatCompletionChunk{
		ID: requestID, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []streamChoice{{FinishReason: &stop}},
	})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, errType string) {
	writeJSON(w, status, errorResponse{Error: errorBody{
		Message: message,
		Type:    errType,
		Code:    http.StatusText(status),
	}})
}

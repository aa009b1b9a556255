package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/rampart-ai/rampart/pkg/models"
)

// fingerprintFields is the canonical subset of a request that determines
// its output. The stream flag is deliberately absent: streaming responses
// are never cached, so it must not split otherwise-identical requests
// across fingerprints.
type fingerprintFields struct {
	Model            string               `json:"model"`
	Messages         []models.ChatMessage `json:"messages"`
	MaxTokens        *int                 `json:"max_tokens,omitempty"`
	Temperature      *float64             `json:"temperature,omitempty"`
	TopP             *float64             `json:"top_p,omitempty"`
	Stop             json.RawMessage      `json:"stop,omitempty"`
	FrequencyPenalty *float64             `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64             `json:"presence_penalty,omitempty"`
	Seed             *int                 `json:"seed,omitempty"`
	ResponseFormat   json.RawMessage      `json:"response_format,omitempty"`
}

// Fingerprint computes a deterministic digest of the semantically
// meaningful parts of a chat request.
func Fingerprint(req models.ChatRequest) string {
	h := sha256.New()
	data, _ := json.Marshal(fingerprintFields{
		Model:            req.Model,
		Messages:         req.Messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Stop:             req.Stop,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Seed:             req.Seed,
		ResponseFormat:   req.ResponseFormat,
	})
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Cacheable reports whether a request is eligible for the response cache.
// Streaming responses are never cached. Requests with a positive sampling
// temperature and no fixed seed are non-deterministic, so caching them
// would pin one sample; they bypass the cache.
func Cacheable(req models.ChatRequest) bool {
	if req.Stream {
		return false
	}
	if req.Temperature != nil && *req.Temperature > 0 && req.Seed == nil {
		return false
	}
	return true
}

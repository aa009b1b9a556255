package cache

import (
	"encoding/json"
	"testing"

	"github.com/rampart-ai/rampart/pkg/models"
)

func chatReq(model, content string) models.ChatRequest {
	raw, _ := json.Marshal(content)
	return models.ChatRequest{
		Model:    model,
		Messages: []models.ChatMessage{{Role: "user", Content: raw}},
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := chatReq("gpt-4o-mini", "hello")
	b := chatReq("gpt-4o-mini", "hello")

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("identical requests must share a fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := chatReq("gpt-4o-mini", "hello")

	other := chatReq("gemini-2.0-flash", "hello")
	if Fingerprint(base) == Fingerprint(other) {
		t.Error("different model must change the fingerprint")
	}

	other = chatReq("gpt-4o-mini", "goodbye")
	if Fingerprint(base) == Fingerprint(other) {
		t.Error("different message must change the fingerprint")
	}

	temp := 0.0
	withParam := chatReq("gpt-4o-mini", "hello")
	withParam.Temperature = &temp
	if Fingerprint(base) == Fingerprint(withParam) {
		t.Error("generation parameters must change the fingerprint")
	}
}

func TestFingerprintIgnoresStreamFlag(t *testing.T) {
	blocking := chatReq("gpt-4o-mini", "hello")
	streaming := chatReq("gpt-4o-mini", "hello")
	streaming.Stream = true

	if Fingerprint(blocking) != Fingerprint(streaming) {
		t.Error("stream flag must not affect the fingerprint")
	}
}

func TestCacheable(t *testing.T) {
	req := chatReq("gpt-4o-mini", "hello")
	if !Cacheable(req) {
		t.Error("plain request should be cacheable")
	}

	req.Stream = true
	if Cacheable(req) {
		t.Error("streaming request must not be cached")
	}
	req.Stream = false

	temp := 0.9
	req.Temperature = &temp
	if Cacheable(req) {
		t.Error("sampled request without a seed must not be cached")
	}

	seed := 42
	req.Seed = &seed
	if !Cacheable(req) {
		t.Error("seeded request is deterministic and cacheable")
	}
}

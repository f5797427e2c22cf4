package api

import (
	"bytes"
	"encoding/json"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/content"
)

type AuthRequest struct {
	ProjectID string `json:"projectId"`
	APIKey    string `json:"apiKey"`
}

type AuthResponse struct {
	Success            bool     `json:"success"`
	Token              string   `json:"token"`
	AvailableLanguages []string `json:"availableLanguages"`
	Tabs               []string `json:"tabs"`
	Stores             []string `json:"stores"`
	Message            string   `json:"message,omitempty"`
}

type tabPayload struct {
	Keys []struct {
		Key    string            `json:"key"`
		Values map[string]string `json:"values"`
	} `json:"keys"`
}

type colorItem struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type imageItem struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type storePayload struct {
	Items []content.Record `json:"items"`
}

// decodeColor normalizes the historical color value shapes to a hex string.
// The canonical shape is a plain string; {hex}, {value} and {color} objects
// are accepted for older projects.
func decodeColor(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, s != ""
	}
	var obj struct {
		Hex   *string `json:"hex"`
		Value *string `json:"value"`
		Color *string `json:"color"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	for _, p := range []*string{obj.Hex, obj.Value, obj.Color} {
		if p != nil && *p != "" {
			return *p, true
		}
	}
	return "", false
}

package content

import (
	"bytes"
	"encoding/json"
)

// Translations maps key -> language -> value for one tab.
type Translations map[string]map[string]string

// Record is one data store entry. Value is kept as raw JSON since record
// shapes are defined per store in the CMS.
type Record struct {
	ID    string          `json:"id"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// UnmarshalJSON accepts numeric ids as well as strings. A null value is
// kept as nil so it encodes back to null.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID    json.RawMessage `json:"id"`
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Key = raw.Key
	r.Value = raw.Value
	if isNull(r.Value) {
		r.Value = nil
	}
	r.ID = ""
	if len(raw.ID) == 0 || isNull(raw.ID) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		r.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return err
	}
	r.ID = n.String()
	return nil
}

func isNull(b json.RawMessage) bool { return bytes.Equal(b, []byte("null")) }

func cloneTranslations(t Translations) Translations {
	out := make(Translations, len(t))
	for k, langs := range t {
		if len(langs) == 0 {
			continue
		}
		cp := make(map[string]string, len(langs))
		for l, v := range langs {
			cp[l] = v
		}
		out[k] = cp
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRecords(rs []Record) []Record {
	out := make([]Record, len(rs))
	for i, r := range rs {
		out[i] = Record{ID: r.ID, Key: r.Key, Value: append(json.RawMessage(nil), r.Value...)}
	}
	return out
}

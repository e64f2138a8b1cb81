package euskalmet

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// conditionCode renders numeric symbol ids the way the string form does ("3" -> "03").
func (f flexString) conditionCode() string {
	s := string(f)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < 10 && len(s) == 1 {
		return "0" + s
	}
	return s
}

// localizedName accepts either a plain string or {"SPANISH": .., "BASQUE": ..}.
type localizedName string

func (l *localizedName) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = localizedName(s)
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for _, lang := range []string{"SPANISH", "BASQUE"} {
		if m[lang] != "" {
			*l = localizedName(m[lang])
			return nil
		}
	}
	*l = ""
	return nil
}

// measured is the {"value": x} wrapper used by forecast payloads.
type measured struct {
	Value *float64 `json:"value"`
}

func (m *measured) get() *float64 {
	if m == nil {
		return nil
	}
	return m.Value
}

// listEnvelope decodes either a bare JSON array or an object holding the
// array under key.
func listEnvelope[T any](body json.RawMessage, key string) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var items []T
		err := json.Unmarshal(body, &items)
		return items, err
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	raw, ok := wrapped[key]
	if !ok {
		return nil, nil
	}
	var items []T
	err := json.Unmarshal(raw, &items)
	return items, err
}

// lastSegment returns what follows the final "/" in keys such as
// "/euskalmet/sensors/SN123".
func lastSegment(s string) string {
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

func ptr(v float64) *float64 { return &v }

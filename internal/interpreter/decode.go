package interpreter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNotSingleObject = errors.New("completion is not a single JSON object")

type rawIntent struct {
	Action     string `json:"action"`
	FromToken  string `json:"fromToken"`
	ToToken    string `json:"toToken"`
	Amount     string `json:"amount"`
	AmountUnit string `json:"amountUnit"`
}

// decodeCompletion accepts exactly one intent object or the literal null. A
// single surrounding markdown code fence is tolerated; anything else is an error.
func decodeCompletion(text string) (rawIntent, bool, error) {
	body := stripFence(strings.TrimSpace(text))
	if body == "null" || body == "NULL" {
		return rawIntent{}, true, nil
	}
	if !strings.HasPrefix(body, "{") {
		return rawIntent{}, false, errNotSingleObject
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	dec.DisallowUnknownFields()
	var out rawIntent
	if err := dec.Decode(&out); err != nil {
		return rawIntent{}, false, fmt.Errorf("decode intent: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return rawIntent{}, false, errNotSingleObject
	}
	return out, false, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(s, "```")
	nl := strings.IndexByte(inner, '\n')
	if nl < 0 {
		return s
	}
	lang := strings.TrimSpace(inner[3:nl])
	if lang != "" && !strings.EqualFold(lang, "json") {
		return s
	}
	return strings.TrimSpace(inner[nl+1:])
}

package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

func jsonMarshal(v interface{}) ([]byte, error) {
	var b, err = json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}
	return b, nil
}

func jsonUnmarshalAny(body []byte) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decoding JSON response: %w", err)
	}
	return v, nil
}

// decodeTokenResponse extracts a token and optional TTL from a standard
// OAuth2 token endpoint JSON body, e.g. {"access_token": "...", "expires_in": 3600}.
func decodeTokenResponse(body []byte, tokenField, expiresField string) (string, time.Duration, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}
	token, ok := doc[tokenField].(string)
	if !ok || token == "" {
		return "", 0, &AuthError{Message: fmt.Sprintf("token response missing %q", tokenField)}
	}
	var ttl time.Duration
	if raw, ok := doc[expiresField]; ok {
		if secs, ok := raw.(float64); ok {
			ttl = time.Duration(secs) * time.Second
		}
	}
	return token, ttl, nil
}

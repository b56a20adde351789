// Package secrets holds the flat credential table handed in on the
// command line. Values never appear in logs or error messages.
package secrets

import (
	"encoding/json"
	"fmt"
)

// Keys consumed by the daemon.
const (
	KeySSOClientID     = "ssoClientId"
	KeySSOClientSecret = "ssoClientSecret"
	KeySSORefreshToken = "ssoRefreshToken"
)

// maxEntries bounds the table; the daemon only ever needs a handful.
const maxEntries = 16

// Store is an immutable name-to-value table.
type Store struct {
	values map[string]string
}

// Parse decodes a JSON object of string values.
func Parse(raw string) (*Store, error) {
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	if len(values) > maxEntries {
		return nil, fmt.Errorf("secrets: too many entries (%d, max %d)", len(values), maxEntries)
	}
	return &Store{values: values}, nil
}

// Get returns the value for name or an error naming the missing key.
func (s *Store) Get(name string) (string, error) {
	v, ok := s.values[name]
	if !ok {
		return "", fmt.Errorf("secrets: missing %q", name)
	}
	return v, nil
}

// Has reports whether name is present.
func (s *Store) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

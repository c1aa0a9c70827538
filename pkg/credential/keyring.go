package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const (
	DefaultService = "rescue-events"
	tokenKey       = "session-token"
)

// ErrNotFound is returned when no token has been stored.
var ErrNotFound = errors.New("credential not found")

// TokenStore keeps the session bearer token between CLI runs.
type TokenStore struct {
	ring keyring.Keyring
}

// Open opens the system keyring for service, falling back to an encrypted
// file under ~/.config/<service>.
func Open(service string) (*TokenStore, error) {
	if service == "" {
		service = DefaultService
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/" + service + "/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &TokenStore{ring: ring}, nil
}

// NewTokenStore wraps an already opened keyring.
func NewTokenStore(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring}
}

func (s *TokenStore) Token() (string, error) {
	item, err := s.ring.Get(tokenKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting token: %w", err)
	}
	return string(item.Data), nil
}

func (s *TokenStore) SetToken(token string) error {
	err := s.ring.Set(keyring.Item{
		Key:   tokenKey,
		Data:  []byte(token),
		Label: "rescue-events session token",
	})
	if err != nil {
		return fmt.Errorf("setting token: %w", err)
	}
	return nil
}

// Forget removes the stored token. A missing token is not an error.
func (s *TokenStore) Forget() error {
	err := s.ring.Remove(tokenKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

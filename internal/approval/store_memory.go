package approval

import (
	"context"
	"sync"
	"time"
)

// InMemoryRequestStore implements RequestStore with the same conditional-update
// semantics as the SQL store. Used in unit tests and local development.
type InMemoryRequestStore struct {
	mu       sync.Mutex
	requests map[string]Request
}

func NewInMemoryRequestStore() *InMemoryRequestStore {
	return &InMemoryRequestStore{requests: make(map[string]Request)}
}

func (s *InMemoryRequestStore) Insert(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.RequestID]; ok {
		return ErrDuplicateKey
	}
	s.requests[req.RequestID] = req
	return nil
}

func (s *InMemoryRequestStore) Get(_ context.Context, requestID string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (s *InMemoryRequestStore) Decide(_ context.Context, requestID string, decision Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.Status != StatusPending {
		return ErrConditionFailed
	}
	req.Status = decision
	s.requests[requestID] = req
	return nil
}

func (s *InMemoryRequestStore) ClaimCompletion(_ context.Context, requestID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if req.CompletionStatus != CompletionUnset {
		return ErrConditionFailed
	}
	req.CompletionStatus = CompletionCompleted
	req.CompletionTimestamp = &at
	s.requests[requestID] = req
	return nil
}

func (s *InMemoryRequestStore) RecordResult(_ context.Context, requestID string, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	req.ActionResult = result
	s.requests[requestID] = req
	return nil
}

type credentialKey struct {
	requestID string
	token     string
}

// InMemoryCredentialStore implements CredentialStore for tests and local
// development.
type InMemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[credentialKey]Credential
}

func NewInMemoryCredentialStore() *InMemoryCredentialStore {
	return &InMemoryCredentialStore{creds: make(map[credentialKey]Credential)}
}

func (s *InMemoryCredentialStore) Insert(_ context.Context, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credentialKey{cred.RequestID, cred.Token}
	if _, ok := s.creds[key]; ok {
		return ErrDuplicateKey
	}
	s.creds[key] = cred
	return nil
}

func (s *InMemoryCredentialStore) Get(_ context.Context, requestID, token string) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[credentialKey{requestID, token}]
	if !ok {
		return Credential{}, ErrTokenNotFound
	}
	return cred, nil
}

func (s *InMemoryCredentialStore) MarkUsed(_ context.Context, requestID, token string, decision Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credentialKey{requestID, token}
	cred, ok := s.creds[key]
	if !ok {
		return ErrTokenNotFound
	}
	if cred.Status != StatusPending || cred.TokenStatus != TokenActive || !cred.ExpirationTime.After(now) {
		return ErrConditionFailed
	}
	cred.Status = decision
	cred.TokenStatus = TokenUsed
	s.creds[key] = cred
	return nil
}

func (s *InMemoryCredentialStore) Revoke(_ context.Context, requestID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := credentialKey{requestID, token}
	cred, ok := s.creds[key]
	if !ok {
		return ErrTokenNotFound
	}
	if cred.TokenStatus != TokenActive {
		return ErrConditionFailed
	}
	cred.TokenStatus = TokenRevoked
	s.creds[key] = cred
	return nil
}

func (s *InMemoryCredentialStore) ListActive(_ context.Context, requestID string) ([]Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []Credential
	for key, cred := range s.creds {
		if key.requestID == requestID && cred.TokenStatus == TokenActive {
			active = append(active, cred)
		}
	}
	return active, nil
}

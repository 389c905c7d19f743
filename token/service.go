package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/ids"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/kv"
)

const (
	refreshKeyPrefix = "refresh_token:"
	blacklistKey     = "token_blacklist"

	deleteBatchSize = 500
)

// Pair is the result of Issue and Refresh.
type Pair struct {
	UserID           ids.UserID
	Email            string
	SessionID        ids.SessionID
	AccessToken      string
	RefreshToken     string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID    ids.UserID
	SessionID ids.SessionID
	JTI       string
	ExpiresAt time.Time
}

type refreshRecord struct {
	Email string `json:"email"`
	SID   string `json:"sid"`
}

// Service is the token service.
type Service struct {
	store   kv.Store
	access  *jwt.Manager
	refresh *jwt.Manager
}

// NewService wires a Service. access and refresh must be configured for
// TypeAccess and TypeRefresh respectively.
func NewService(store kv.Store, access, refresh *jwt.Manager) (*Service, error) {
	if store == nil {
		return nil, errors.New("token: store is required")
	}
	if access == nil || access.Type() != jwt.TypeAccess {
		return nil, errors.New("token: access manager must issue access tokens")
	}
	if refresh == nil || refresh.Type() != jwt.TypeRefresh {
		return nil, errors.New("token: refresh manager must issue refresh tokens")
	}
	return &Service{store: store, access: access, refresh: refresh}, nil
}

func refreshKey(userID ids.UserID, jti string) string {
	return refreshKeyPrefix + string(userID) + ":" + jti
}

func userRefreshPrefix(userID ids.UserID) string {
	return refreshKeyPrefix + string(userID) + ":"
}

// Issue signs a new pair and persists the refresh record.
func (s *Service) Issue(ctx context.Context, userID ids.UserID, email string, sessionID ids.SessionID) (Pair, error) {
	accessToken, accessClaims, err := s.access.Create(string(userID), string(sessionID))
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	refreshToken, refreshClaims, err := s.refresh.Create(string(userID), string(sessionID))
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}

	raw, err := json.Marshal(refreshRecord{Email: email, SID: string(sessionID)})
	if err != nil {
		return Pair{}, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	if err := s.store.Set(ctx, refreshKey(userID, refreshClaims.ID), raw, s.refresh.TTL()); err != nil {
		return Pair{}, err
	}

	return Pair{
		UserID:           userID,
		Email:            email,
		SessionID:        sessionID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		ExpiresAt:        accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// VerifyAccess checks the blacklist, then signature, expiry, issuer,
// audience and token type. A blacklist lookup failure is returned as a
// storage error; the token is never accepted without it.
func (s *Service) VerifyAccess(ctx context.Context, accessToken string) (AccessClaims, error) {
	if accessToken == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	revoked, err := s.store.IsMember(ctx, blacklistKey, accessToken)
	if err != nil {
		return AccessClaims{}, err
	}
	if revoked {
		return AccessClaims{}, ErrTokenBlacklisted
	}

	claims, err := s.access.Parse(accessToken)
	if err != nil {
		return AccessClaims{}, ErrInvalidToken
	}

	return AccessClaims{
		UserID:    ids.UserID(claims.UID),
		SessionID: ids.SessionID(claims.SID),
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Refresh redeems refreshToken for a new pair. The old token is consumed
// whether or not issuing the new pair succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	claims, err := s.refresh.Parse(refreshToken)
	if err != nil {
		return Pair{}, ErrInvalidRefreshToken
	}
	userID := ids.UserID(claims.UID)
	key := refreshKey(userID, claims.ID)

	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Pair{}, ErrRefreshTokenNotFound
		}
		return Pair{}, err
	}

	deleted, err := s.store.Delete(ctx, key)
	if err != nil {
		return Pair{}, err
	}
	if deleted == 0 {
		// another caller consumed it between our read and delete
		return Pair{}, ErrRefreshTokenNotFound
	}

	var rec refreshRecord
	if err := json.Unmarshal(raw, &rec); err != nil || rec.SID != claims.SID {
		return Pair{}, ErrInvalidRefreshToken
	}

	return s.Issue(ctx, userID, rec.Email, ids.SessionID(claims.SID))
}

// Inspect verifies a refresh token's signature and type without touching
// the store. Callers use it to key per-session throttles before Refresh.
func (s *Service) Inspect(refreshToken string) (ids.UserID, ids.SessionID, error) {
	claims, err := s.refresh.Parse(refreshToken)
	if err != nil {
		return "", "", ErrInvalidRefreshToken
	}
	return ids.UserID(claims.UID), ids.SessionID(claims.SID), nil
}

// Blacklist revokes a still-valid access token until its natural expiry.
// Tokens that fail verification are rejected with ErrInvalidToken.
func (s *Service) Blacklist(ctx context.Context, accessToken string) error {
	claims, err := s.access.Parse(accessToken)
	if err != nil {
		return ErrInvalidToken
	}
	remaining := s.access.Remaining(claims)
	if remaining <= 0 {
		return nil
	}

	if err := s.store.AddToSet(ctx, blacklistKey, accessToken); err != nil {
		return err
	}

	current, err := s.store.TTL(ctx, blacklistKey)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	if err == nil && current >= remaining {
		return nil
	}
	return s.store.ExpireSet(ctx, blacklistKey, remaining)
}

// RevokeAllForUser deletes every refresh record owned by userID and
// reports how many were removed.
func (s *Service) RevokeAllForUser(ctx context.Context, userID ids.UserID) (int, error) {
	keys, err := s.store.ScanPrefix(ctx, userRefreshPrefix(userID))
	if err != nil {
		return 0, err
	}
	return s.deleteKeys(ctx, keys)
}

// RevokeSession deletes the refresh records issued for one session.
func (s *Service) RevokeSession(ctx context.Context, userID ids.UserID, sessionID ids.SessionID) (int, error) {
	keys, err := s.store.ScanPrefix(ctx, userRefreshPrefix(userID))
	if err != nil {
		return 0, err
	}

	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return 0, err
		}
		var rec refreshRecord
		if json.Unmarshal(raw, &rec) != nil || rec.SID == string(sessionID) {
			matched = append(matched, key)
		}
	}
	return s.deleteKeys(ctx, matched)
}

func (s *Service) deleteKeys(ctx context.Context, keys []string) (int, error) {
	total := 0
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		n, err := s.store.Delete(ctx, keys[start:end]...)
		if err != nil {
			return total, err
		}
		total += int(n)
	}
	return total, nil
}

// AccessTTL is the configured access-token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.access.TTL() }

// RefreshTTL is the configured refresh-token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refresh.TTL() }

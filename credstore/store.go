package credstore

import (
	"fmt"

	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Persisted keys, shared with earlier browser builds of the client
const (
	AccessTokenKey  = "accessToken"
	RefreshTokenKey = "refreshToken"
)

// Record is the persisted pair of opaque credentials
type Record struct {
	AccessToken  string
	RefreshToken string
}

// Store is the only owner of the persisted Record
type Store interface {
	// Load returns nil, nil when no access credential is stored or the storage is unusable.
	// The refresh credential is optional; session cookies are revalidated rather than refreshed.
	Load() (*Record, error)
	Save(record Record) error
	Clear() error
}

// KVStore persists a Record into a storage.KV
type KVStore struct {
	kv     storage.KV
	logger zerolog.Logger
}

var _ Store = (*KVStore)(nil)

type Option func(*KVStore)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *KVStore) {
		s.logger = logger
	}
}

func New(kv storage.KV, options ...Option) *KVStore {
	s := &KVStore{kv: kv, logger: log.Logger}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *KVStore) Load() (*Record, error) {
	access, okAccess, err := s.kv.Get(AccessTokenKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential storage unavailable, treating as signed out")
		return nil, nil
	}
	if !okAccess || access == "" {
		return nil, nil
	}
	refresh, _, err := s.kv.Get(RefreshTokenKey)
	if err != nil {
		s.logger.Warn().Err(err).Msg("credential storage unavailable, treating as signed out")
		return nil, nil
	}
	return &Record{AccessToken: access, RefreshToken: refresh}, nil
}

// Save writes the record. An empty refresh credential removes any stored one.
func (s *KVStore) Save(record Record) error {
	if err := s.kv.Set(AccessTokenKey, record.AccessToken); err != nil {
		return storageErr("Save", err)
	}
	var err error
	if record.RefreshToken == "" {
		err = s.kv.Delete(RefreshTokenKey)
	} else {
		err = s.kv.Set(RefreshTokenKey, record.RefreshToken)
	}
	if err != nil {
		return storageErr("Save", err)
	}
	return nil
}

func (s *KVStore) Clear() error {
	errAccess := s.kv.Delete(AccessTokenKey)
	errRefresh := s.kv.Delete(RefreshTokenKey)
	if errAccess != nil {
		return storageErr("Clear", errAccess)
	}
	if errRefresh != nil {
		return storageErr("Clear", errRefresh)
	}
	return nil
}

func storageErr(op string, err error) error {
	return apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[KVStore %s] %w", op, err))
}

// Package creds persists the session's token pair in a local bbolt
// database, optionally encrypted at rest with a passphrase-derived key.
package creds

import (
	"crypto/rand"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mvoronin/pulsechat/internal/errors"
	"github.com/mvoronin/pulsechat/internal/models"
)

const (
	// storeDirPerm is the permission mode for the state directory.
	storeDirPerm = fs.FileMode(0o700)

	// storeFilePerm is the permission mode for the database file.
	storeFilePerm = fs.FileMode(0o600)

	// storeOpenTimeout is the maximum time to wait for the bolt lock.
	storeOpenTimeout = 5 * time.Second
)

var (
	authBucket      = []byte("auth")
	accessTokenKey  = []byte("access_token")
	refreshTokenKey = []byte("refresh_token")
	saltKey         = []byte("salt")
)

// Store is a synchronous credential store over bbolt. With a
// passphrase, tokens are sealed with AES-GCM under a scrypt-derived
// key; without one they are stored as-is.
type Store struct {
	db     *bolt.DB
	cipher *tokenCipher
}

// Open opens (or creates) the credential database at path. A non-empty
// passphrase enables at-rest encryption; the per-store salt is created
// on first open and persisted alongside the tokens.
func Open(path, passphrase string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), storeDirPerm); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}

	db, err := bolt.Open(path, storeFilePerm, &bolt.Options{Timeout: storeOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening credentials db: %w", err)
	}

	var salt []byte

	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(authBucket)
		if err != nil {
			return fmt.Errorf("creating auth bucket: %w", err)
		}

		salt = bucket.Get(saltKey)
		if salt == nil {
			salt = make([]byte, saltLen)
			if _, err := rand.Read(salt); err != nil {
				return fmt.Errorf("generating salt: %w", err)
			}

			if err := bucket.Put(saltKey, salt); err != nil {
				return fmt.Errorf("storing salt: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db}

	if passphrase != "" {
		key, err := deriveKey(passphrase, salt)
		if err != nil {
			db.Close()
			return nil, err
		}

		cipher, err := newTokenCipher(key)
		zeroKey(key)

		if err != nil {
			db.Close()
			return nil, err
		}

		store.cipher = cipher
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing credentials db: %w", err)
	}

	return nil
}

// SetTokens stores a token pair, replacing any existing pair.
func (s *Store) SetTokens(tokens models.AuthTokens) error {
	access, err := s.sealToken(tokens.AccessToken)
	if err != nil {
		return err
	}

	refresh, err := s.sealToken(tokens.RefreshToken)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(authBucket)
		if err := bucket.Put(accessTokenKey, access); err != nil {
			return err
		}

		return bucket.Put(refreshTokenKey, refresh)
	})
	if err != nil {
		return fmt.Errorf("storing tokens: %w", err)
	}

	return nil
}

// SetAccessToken replaces only the access token. Used after a refresh,
// which does not rotate the refresh token.
func (s *Store) SetAccessToken(token string) error {
	sealed, err := s.sealToken(token)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Put(accessTokenKey, sealed)
	})
	if err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}

	return nil
}

// Tokens returns the stored token pair, or errors.ErrNoCredentials if
// none are stored.
func (s *Store) Tokens() (models.AuthTokens, error) {
	var access, refresh []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(authBucket)

		if v := bucket.Get(accessTokenKey); v != nil {
			access = append([]byte(nil), v...)
		}

		if v := bucket.Get(refreshTokenKey); v != nil {
			refresh = append([]byte(nil), v...)
		}

		return nil
	})
	if err != nil {
		return models.AuthTokens{}, fmt.Errorf("reading tokens: %w", err)
	}

	if access == nil || refresh == nil {
		return models.AuthTokens{}, errors.ErrNoCredentials
	}

	accessToken, err := s.openToken(access)
	if err != nil {
		return models.AuthTokens{}, err
	}

	refreshToken, err := s.openToken(refresh)
	if err != nil {
		return models.AuthTokens{}, err
	}

	return models.AuthTokens{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// Clear removes the stored token pair. The salt is kept so a future
// login under the same passphrase reuses the derived key.
func (s *Store) Clear() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(authBucket)
		if err := bucket.Delete(accessTokenKey); err != nil {
			return err
		}

		return bucket.Delete(refreshTokenKey)
	})
	if err != nil {
		return fmt.Errorf("clearing tokens: %w", err)
	}

	return nil
}

func (s *Store) sealToken(token string) ([]byte, error) {
	if s.cipher == nil {
		return []byte(token), nil
	}

	return s.cipher.seal([]byte(token))
}

func (s *Store) openToken(data []byte) (string, error) {
	if s.cipher == nil {
		return string(data), nil
	}

	plaintext, err := s.cipher.open(data)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

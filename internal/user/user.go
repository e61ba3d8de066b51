// Package user keeps account records as one flat document, apart from the
// event log.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/gyaneshwarpardhi/chronicle/internal/storage"
)

// DocumentKey holds the user list.
const DocumentKey = "users"

var (
	// ErrExists indicates the name is already taken.
	ErrExists = errors.New("user already exists")
	// ErrNotFound indicates no user has the name.
	ErrNotFound = errors.New("user does not exist")
	// ErrInvalidCredentials indicates the password does not match.
	ErrInvalidCredentials = errors.New("wrong password")
	// ErrInvalid indicates a request without a name or password.
	ErrInvalid = errors.New("invalid credentials")
)

// Credentials is the input of Create and Login.
type Credentials struct {
	Name string `json:"name"`
	Pass string `json:"pass"`
}

// User is a stored account. The password is kept as a bcrypt hash only.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PasswordHash []byte `json:"password_hash"`
}

// Store reads and writes the user document.
type Store struct {
	docs storage.DocumentStore
	cost int
}

// NewStore creates a Store hashing passwords with bcrypt at cost (0 = default).
func NewStore(docs storage.DocumentStore, cost int) *Store {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Store{docs: docs, cost: cost}
}

// Create adds a user; names are unique.
func (s *Store) Create(ctx context.Context, in Credentials) (User, error) {
	if strings.TrimSpace(in.Name) == "" || in.Pass == "" {
		return User{}, fmt.Errorf("%w: name and pass are required", ErrInvalid)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Pass), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{ID: uuid.New().String(), Name: in.Name, PasswordHash: hash}

	err = s.docs.Update(ctx, DocumentKey, func(current []byte) ([]byte, error) {
		users, err := decode(current)
		if err != nil {
			return nil, err
		}
		for _, existing := range users {
			if existing.Name == in.Name {
				return nil, fmt.Errorf("user %s: %w", in.Name, ErrExists)
			}
		}
		return encode(append(users, u))
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// Login checks a name and password pair.
func (s *Store) Login(ctx context.Context, in Credentials) (User, error) {
	doc, err := s.docs.Load(ctx, DocumentKey)
	if err != nil {
		return User{}, fmt.Errorf("load users: %w", err)
	}
	users, err := decode(doc)
	if err != nil {
		return User{}, err
	}
	for _, u := range users {
		if u.Name != in.Name {
			continue
		}
		if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(in.Pass)); err != nil {
			return User{}, ErrInvalidCredentials
		}
		return u, nil
	}
	return User{}, fmt.Errorf("user %s: %w", in.Name, ErrNotFound)
}

func decode(doc []byte) ([]User, error) {
	if doc == nil {
		return nil, nil
	}
	var users []User
	if err := json.Unmarshal(doc, &users); err != nil {
		return nil, &storage.CorruptError{Collection: DocumentKey, Positions: []string{DocumentKey}, Err: err}
	}
	return users, nil
}

func encode(users []User) ([]byte, error) {
	data, err := json.Marshal(users)
	if err != nil {
		return nil, fmt.Errorf("%w: users: %w", storage.ErrEncoding, err)
	}
	return data, nil
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrUserExists is returned by AddUser for a taken name
var ErrUserExists = errors.New("user already exists")

// AddUser stores a student with a bcrypt-hashed password
func (db *DB) AddUser(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}

	var exists int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)
	`, username, string(hash), formatTime(db.now()))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ValidateCredentials reports whether the password matches the stored hash.
// Unknown users are simply invalid.
func (db *DB) ValidateCredentials(ctx context.Context, username, password string) (bool, error) {
	var hash string
	err := db.conn.QueryRowContext(ctx, `
		SELECT password_hash FROM users WHERE username = ?
	`, strings.TrimSpace(username)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

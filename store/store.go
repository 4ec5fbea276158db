// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package store defines storage of delivered chunks on the receiving side.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// ErrNotFound is returned when the chunk doesn't exist.
var ErrNotFound = errors.New("chunk not found")

// Store keeps delivered chunk payloads keyed by session and chunk id.
//
// A repeated Put of the same chunk replaces the previous payload.
type Store interface {
	Put(ctx context.Context, session string, chunkID int64, data []byte) error
	Get(ctx context.Context, session string, chunkID int64) ([]byte, error)
	// List returns chunk ids of the session in ascending order.
	List(ctx context.Context, session string) ([]int64, error)
	Close() error
}

var sessionRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidateSession checks that the session name is safe to be used as a key or file name.
func ValidateSession(session string) error {
	if !sessionRe.MatchString(session) {
		return fmt.Errorf("invalid session name %q", session)
	}

	return nil
}

// ValidateKey validates session and chunk id.
func ValidateKey(session string, chunkID int64) error {
	if err := ValidateSession(session); err != nil {
		return err
	}

	if chunkID < 0 {
		return fmt.Errorf("chunk id should be non-negative: %d", chunkID)
	}

	return nil
}

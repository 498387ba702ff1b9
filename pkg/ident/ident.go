// Package ident validates the user and conversation identifiers that scope
// every piece of Gamemaster storage, and derives the storage namespace names
// from them.
//
// All functions are pure and deterministic. Namespace derivation is the only
// place where identifiers are combined into backend names, so the uniqueness
// guarantee of (user, conversation) pairs lives entirely here.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// Identifier length limits imposed by the backing stores.
const (
	// maxRelationalName is the longest identifier PostgreSQL (and the vector
	// collection registry) accepts for a table or collection name.
	maxRelationalName = 64

	// maxDocumentName is the longest database name MongoDB accepts.
	maxDocumentName = 63
)

// IsValid reports whether s is a canonically formatted UUID string.
// It is the sole input-validation gate before any store access: empty strings
// and anything that does not parse as a UUID are rejected.
func IsValid(s string) bool {
	if s == "" {
		return false
	}
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Namespace derives the relational / vector-index namespace for a
// (user, conversation) pair: both UUIDs with dashes stripped, truncated to the
// 64-character relational limit.
//
// Two 32-character stripped UUIDs concatenate to exactly 64 characters, so no
// information is lost for canonical inputs and distinct pairs never collide.
func Namespace(userID, conversationID string) string {
	return truncate(strip(userID)+strip(conversationID), maxRelationalName)
}

// DocNamespace derives the document-store namespace for a (user, conversation)
// pair. MongoDB allows one character less than the relational stores, so the
// combined name loses its final character. Uniqueness still holds for
// realistic ID cardinality: the dropped character is one hex digit of the
// conversation UUID's node field.
func DocNamespace(userID, conversationID string) string {
	return truncate(strip(userID)+strip(conversationID), maxDocumentName)
}

func strip(id string) string {
	return strings.ReplaceAll(id, "-", "")
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

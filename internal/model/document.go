package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Document is the registry entry for one ingested source document.
type Document struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// ContentHash computes SHA-256 of content and returns the hex string. Used
// for dedup: two documents with the same hash produce the same chunk set.
func ContentHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}

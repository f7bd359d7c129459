package models

import (
	"bytes"
	"slices"
	"time"
)

// Entry is the payload a cache tier keeps per key.
type Entry struct {
	Data       []byte
	Tags       []string
	Expiration time.Time
}

// NewEntry creates an Entry holding a private copy of data and tags.
func NewEntry(data []byte, expiration time.Time, tags ...string) *Entry {
	return &Entry{
		Data:       bytes.Clone(data),
		Tags:       slices.Clone(tags),
		Expiration: expiration,
	}
}

// IsExpired checks if the entry has expired.
func (e *Entry) IsExpired() bool {
	return !e.Expiration.IsZero() && time.Now().After(e.Expiration)
}

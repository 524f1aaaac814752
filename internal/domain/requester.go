// Package domain contains entities without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxRequesterIDLen   = 36
	MaxRequesterNameLen = 36
)

var (
	ErrRequesterNameTooLong = errors.New("requester name too long")
	ErrRequesterNameEmpty   = errors.New("requester name empty")
	ErrRequesterIDTooLong   = errors.New("requester id too long")
)

type RequesterID string

// Requester is whoever asked for an item to be played.
type Requester struct {
	ID   RequesterID `json:"id"`
	Name string      `json:"name"`
}

// NewRequester is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewRequester(id, name string) (Requester, error) {
	if len(id) > MaxRequesterIDLen {
		return Requester{}, ErrRequesterIDTooLong
	}
	if len(name) == 0 {
		return Requester{}, ErrRequesterNameEmpty
	}
	if len(name) > MaxRequesterNameLen {
		return Requester{}, ErrRequesterNameTooLong
	}
	if id == "" {
		id = name
	}
	return Requester{ID: RequesterID(id), Name: name}, nil
}

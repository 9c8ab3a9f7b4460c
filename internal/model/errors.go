package model

import (
	"errors"
)

var (
	// ErrCredential is returned when a user has no usable delegated token.
	ErrCredential = errors.New("no usable delegated credential")

	// ErrProvider is returned when an upstream API rejects a request or times out.
	ErrProvider = errors.New("provider request failed")

	// ErrTokenExpired is returned when the provider no longer accepts a sync token.
	ErrTokenExpired = errors.New("sync token expired")

	// ErrUnknownChannel is returned for notifications on a channel we do not track.
	ErrUnknownChannel = errors.New("unknown watch channel")

	// ErrExtraction is returned when no tasks could be extracted from a transcript.
	ErrExtraction = errors.New("task extraction failed")

	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrNoContent is returned when a meeting has no transcript sentences.
	ErrNoContent = errors.New("meeting has no transcript content")

	// ErrParse is returned when an external payload cannot be decoded.
	ErrParse = errors.New("malformed payload")

	// ErrUnauthorized is returned when a webhook signature does not verify.
	ErrUnauthorized = errors.New("unauthorized")
)

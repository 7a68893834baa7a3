package domain

import "errors"

// Sentinel errors shared by the store, ingress, and worker layers. Workers
// and HTTP handlers branch on errors.Is against these rather than string
// matching or typed panics.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTranslationNotReady = errors.New("translation not ready")
	ErrLanguageMissing = errors.New("language not present in task")
	ErrAlreadyTerminal = errors.New("task already in a terminal state")
)

package state

import "errors"

var (
	ErrEmptyName       = errors.New("username is empty")
	ErrNameTaken       = errors.New("username already taken")
	ErrAlreadyJoined   = errors.New("session already joined")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrQueueFull       = errors.New("send queue full")
)

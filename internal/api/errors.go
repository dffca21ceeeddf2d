package api

import "errors"

var (
	ErrNotFound         = errors.New("endpoint not found on collaborator")
	ErrRateLimited      = errors.New("rate limited by collaborator")
	ErrUnexpectedStatus = errors.New("unexpected status from collaborator")
)

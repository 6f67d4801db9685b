package models

import "errors"

var (
	ErrConfigurationMissing = errors.New("configuration missing")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrMalformedResponse    = errors.New("malformed upstream response")
	ErrValidation           = errors.New("validation error")
	ErrPersistence          = errors.New("persistence error")
	ErrNotFound             = errors.New("not found")
)

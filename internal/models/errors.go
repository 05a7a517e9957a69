package models

import "errors"

var (
	ErrUnknownLocation = errors.New("unknown location")
	ErrNoSources       = errors.New("no sources returned data")
)

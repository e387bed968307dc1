package service

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSerial  = errors.New("device serial is required")
	ErrEmptyCommand   = errors.New("command is required")
	ErrInvalidCommand = errors.New("command must be a single line")
	ErrInvalidName    = errors.New("name is required")
	ErrNoDevices      = errors.New("at least one target device is required")
	ErrInvalidWindow  = errors.New("window end must be after start")
	ErrInvalidPIN     = errors.New("pin must be 1-9 digits")
	ErrPINInUse       = errors.New("pin is already assigned to another user")
	ErrNoActiveGrant  = errors.New("no active grant")
)

// normalizeSerial trims surrounding whitespace; serials are otherwise
// case-sensitive and opaque.
func normalizeSerial(sn string) (string, error) {
	sn = strings.TrimSpace(sn)
	if sn == "" {
		return "", ErrInvalidSerial
	}
	return sn, nil
}

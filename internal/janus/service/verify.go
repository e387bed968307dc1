package service

import (
	"strings"

	"github.com/BrandonDHaskell/Janus/server/internal/janus/store"
)

// NormalizeVerify maps a device verify code or name onto the closed set of
// punch methods.  Anything unrecognised is VerifyOther.
func NormalizeVerify(raw string) store.VerifyMethod {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "fp", "finger", "fingerprint":
		return store.VerifyFingerprint
	case "0", "3", "pw", "pwd", "password":
		return store.VerifyPassword
	case "2", "4", "rf", "card", "rfid":
		return store.VerifyRFID
	case "15", "face":
		return store.VerifyFace
	}
	return store.VerifyOther
}

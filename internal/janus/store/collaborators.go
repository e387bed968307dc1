package store

import (
	"context"
	"time"
)

// EmployeeRef identifies an employee in the central system.
type EmployeeRef struct {
	ID         int64
	ExternalID string
	Name       string
}

// EmployeeDirectory maps a terminal PIN to an employee.
type EmployeeDirectory interface {
	ResolveByExternalID(ctx context.Context, externalID string) (EmployeeRef, bool, error)
}

// VerifyMethod is the normalized modality of a punch.
type VerifyMethod string

const (
	VerifyFingerprint VerifyMethod = "fingerprint"
	VerifyPassword    VerifyMethod = "password"
	VerifyRFID        VerifyMethod = "rfid"
	VerifyFace        VerifyMethod = "face"
	VerifyOther       VerifyMethod = "other"
)

// PunchRecord is one attendance punch as accepted from a device.
type PunchRecord struct {
	DeviceSerial string
	Employee     EmployeeRef
	Method       VerifyMethod
	PunchedAt    time.Time
	ReceivedAt   time.Time
}

// PunchSink persists attendance punches.  Re-pushed duplicates may be
// dropped by the implementation.
type PunchSink interface {
	InsertPunch(ctx context.Context, rec PunchRecord) error
}

// BiometricKind is the modality of a stored template.
type BiometricKind string

const (
	BiometricFingerprint BiometricKind = "fingerprint"
	BiometricFace        BiometricKind = "face"
	BiometricRFID        BiometricKind = "rfid"
)

// NoFinger is the finger index of templates that are not fingerprints.
const NoFinger = -1

// TemplateRecord is a stored biometric template.
type TemplateRecord struct {
	ID           int64
	EmployeeID   int64
	Kind         BiometricKind
	FingerIndex  int
	Payload      string
	ContentHash  string
	SourceSerial string
	UpdatedAt    time.Time
}

// BiometricStore keeps at most one template per (employee, kind, finger).
type BiometricStore interface {
	FindTemplate(ctx context.Context, employeeID int64, kind BiometricKind, finger int) (TemplateRecord, bool, error)
	InsertTemplate(ctx context.Context, rec TemplateRecord) error
	UpdateTemplate(ctx context.Context, rec TemplateRecord) error
}

package service

import (
	"fmt"
	"strings"
	"time"
)

// Device command text.  Devices match these literally, so the spacing and
// tab separators matter.

const deviceTimeLayout = "2006-01-02 15:04"
const deviceSecondsLayout = "2006-01-02 15:04:05"

func CmdTimeZone(tzID int, start, end time.Time) string {
	return fmt.Sprintf("DATA UPDATE TIMEZONE TZID=%d\tStartTime=%s\tEndTime=%s",
		tzID, start.Format(deviceTimeLayout), end.Format(deviceTimeLayout))
}

func CmdUpsertUser(pin, name string, tzID int) string {
	return fmt.Sprintf("DATA UPDATE USERINFO PIN=%s\tName=%s\tPri=0\tPasswd=\tCard=\tGrp=1\tTZ=%d\tVerify=0",
		pin, sanitizeField(name), tzID)
}

func CmdDeleteUser(pin string) string {
	return "DATA DELETE USERINFO PIN=" + pin
}

func CmdQueryUsers() string { return "DATA QUERY USERINFO" }

func CmdQueryAttLog(from, to time.Time) string {
	if from.IsZero() && to.IsZero() {
		return "DATA QUERY ATTLOG"
	}
	return fmt.Sprintf("DATA QUERY ATTLOG StartTime=%s\tEndTime=%s",
		from.Format(deviceSecondsLayout), to.Format(deviceSecondsLayout))
}

func CmdQueryFingerprints() string { return "DATA QUERY BIODATA Type=1" }
func CmdQueryFaces() string        { return "DATA QUERY BIODATA Type=9" }
func CmdInfo() string              { return "INFO" }
func CmdQueryOptions() string      { return "DATA QUERY OPTIONS" }

// sanitizeField keeps operator-supplied text from breaking the tab and
// newline framing.
func sanitizeField(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\t", " ", "\r", " ", "\n", " ").Replace(s))
}

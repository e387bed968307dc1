package types

// Record kinds produced by the line parser.
const (
	KindRealTimeLog = "REAL_TIME_LOG"
	KindAttLog      = "ATT_LOG"
	KindUser        = "USER"
	KindBioData     = "BIODATA"
	KindBioPhoto    = "BIOPHOTO"
	KindUserPic     = "USERPIC"
)

// Record is one parsed device line: a kind discriminator plus whatever
// key/value fields the device sent.  Field names are device specific.
type Record struct {
	Kind   string
	Fields map[string]string
	Raw    string
}

// Field returns the first non-empty value among names.
func (r Record) Field(names ...string) string {
	for _, n := range names {
		if v, ok := r.Fields[n]; ok && v != "" {
			return v
		}
	}
	return ""
}

// IsBiometric reports whether the record belongs in a reconciliation batch.
func (r Record) IsBiometric() bool {
	switch r.Kind {
	case KindBioData, KindBioPhoto, KindUserPic:
		return true
	}
	return false
}

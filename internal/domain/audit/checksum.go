package audit

import (
	"bytes"
	"crypto/subtle"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Checksum digests every persisted field of e except the checksum itself.
// A row edited behind the engine's back no longer verifies.
func Checksum(e *Entry) []byte {
	var buf bytes.Buffer
	write := func(b []byte) {
		buf.Write(b)
		buf.WriteByte(0x1f)
	}
	write(e.ID[:])
	if e.OrgID != nil {
		write(e.OrgID[:])
	} else {
		write(nil)
	}
	write([]byte(e.TableName))
	write(e.RecordID[:])
	write([]byte(e.Operation))
	write(e.OldValues)
	write(e.NewValues)
	write([]byte(e.UserID))
	write([]byte(e.IPAddress))
	write([]byte(e.UserAgent))
	write([]byte(e.CreatedAt.UTC().Format(time.RFC3339Nano)))

	sum := blake2b.Sum256(buf.Bytes())
	return sum[:]
}

// Verify reports whether the stored checksum matches the entry content.
func Verify(e *Entry) bool {
	if len(e.Checksum) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(e.Checksum, Checksum(e)) == 1
}

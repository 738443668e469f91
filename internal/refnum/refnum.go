// Package refnum produces human-readable checkout reference numbers.
//
// The format is CHK-<14-digit-timestamp>-<6-hex>, e.g. CHK-20251009143025-A7B3F9.
// Collisions are unlikely but not impossible; the UNIQUE constraint on
// checkouts.reference_number is what actually guarantees uniqueness.
package refnum

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const Prefix = "CHK"

var pattern = regexp.MustCompile(`^CHK-\d{14}-[A-F0-9]{6}$`)

func Generate() string {
	ts := time.Now().UTC().Format("20060102150405")

	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	suffix := strings.ToUpper(hex.EncodeToString(buf))

	return fmt.Sprintf("%s-%s-%s", Prefix, ts, suffix)
}

func IsValid(ref string) bool {
	return pattern.MatchString(ref)
}

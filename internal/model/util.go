package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// ID prefixes used for every keyforge record.
const (
	PrefixInstance     = "instance"
	PrefixOrganisation = "organisation"
	PrefixPassword     = "pwd"
	PrefixEvent        = "evt"
	PrefixLog          = "log"
	PrefixKeyPair      = "key"
	PrefixAudit        = "audit"
)

// NewID returns "<prefix>-<16 hex chars>" built from crypto/rand.
func NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, RandomHex(8))
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(err)
	}
	return hex.EncodeToString(b)
}

// Timestamp normalises t to UTC microseconds, the precision the database keeps.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

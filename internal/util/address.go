package util

import "github.com/stellar/go/strkey"

// addressPayloadLength is the size of an ed25519 key or contract hash
const addressPayloadLength = 32

// ValidateAddress reports whether addr is a Stellar account (G...) or
// contract (C...) strkey with a correct version byte and checksum.
func ValidateAddress(addr string) bool {
	for _, version := range []strkey.VersionByte{strkey.VersionByteAccountID, strkey.VersionByteContract} {
		if payload, err := strkey.Decode(version, addr); err == nil {
			return len(payload) == addressPayloadLength
		}
	}
	return false
}

// TruncateAddress returns a shortened address for display
func TruncateAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-6:]
}

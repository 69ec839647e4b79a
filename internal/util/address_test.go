package util

import (
	"strings"
	"testing"
)

const (
	testAccount  = "GAV5QBWJP4HABLY2D7BTFD5HMOUSNFZDZDNY7LCPSOXXDWYYNVXJBKNV"
	testContract = "CCMFPYIX3UDSFWTI5DN4DQ2ZQ5CW7SOMBWMRLJJZQTO2OKGDNPI75MXU"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"account", testAccount, true},
		{"contract", testContract, true},
		{"empty", "", false},
		{"bad checksum", "GAV5QBWJP4AABLY2D7BTFD5HMOUSNFZDZDNY7LCPSOXXDWYYNVXJBKNV", false},
		{"shape only", "G" + strings.Repeat("A", 55), false},
		{"truncated", testAccount[:55], false},
		{"short payload", "GAWXCFSCW4TLARABMJ6KT65MGL2SX4A", false},
		{"secret seed", "SAV5QBWJP4HABLY2D7BTFD5HMOUSNFZDZDNY7LCPSOXXDWYYNVXJAO6K", false},
		{"muxed account", "MAV5QBWJP4HABLY2D7BTFD5HMOUSNFZDZDNY7LCPSOXXDWYYNVXJAAAAAAAAAAAAADT56", false},
		{"lowercase", strings.ToLower(testAccount), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateAddress(tt.addr); got != tt.want {
				t.Errorf("ValidateAddress(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestTruncateAddress(t *testing.T) {
	if got := TruncateAddress(testAccount); got != "GAV5QBWJ...XJBKNV" {
		t.Errorf("TruncateAddress() = %q, want GAV5QBWJ...XJBKNV", got)
	}
	if got := TruncateAddress("GSHORT"); got != "GSHORT" {
		t.Errorf("TruncateAddress(short) = %q, want GSHORT", got)
	}
}

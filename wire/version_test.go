package wire

import "testing"

func TestCheckVersionDoesNotPanic(t *testing.T) {
	for _, v := range []string{"", ProtocolVersion, "1.0.1", "2.0.0", "garbage"} {
		CheckVersion(v)
	}
}

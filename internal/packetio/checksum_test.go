package packetio

import "testing"

func TestChecksumKnownVector(t *testing.T) {
	// RFC 1071 §A worked example.
	data := []byte{0x00, 0x01, 0xf2, 0x03, 0xf4, 0xf5, 0xf6, 0xf7}
	got := Checksum(data)
	if !ValidateChecksum(append(append([]byte{}, data...), byte(got>>8), byte(got))) {
		t.Fatalf("Checksum(%x) = %#04x did not validate when appended", data, got)
	}
}

func TestChecksumOddLength(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	sum := Checksum(data)
	full := append(append([]byte{}, data...), byte(sum>>8), byte(sum))
	if !ValidateChecksum(full) {
		t.Fatalf("odd-length checksum %#04x did not validate", sum)
	}
}

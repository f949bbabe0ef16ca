package blob

import "testing"

func TestIoAttrEncodeDecodeRoundTrip(t *testing.T) {
	var a IoAttr
	a.ID[0] = 0xaa
	a.Origin[IdLen-1] = 0xbb
	a.Offset = 128
	a.Size = 4096
	a.Flags = FlagIsHistory | FlagMeta

	got, err := decodeIoAttr(a.Encode())
	if err != nil {
		t.Fatalf("decodeIoAttr: %v", err)
	}
	if got != a {
		t.Errorf("decodeIoAttr(Encode()) = %+v, want %+v", got, a)
	}
}

func TestDecodeIoAttrRejectsShortBuffer(t *testing.T) {
	_, err := decodeIoAttr(make([]byte, ioAttrSize-1))
	if err != ErrInvalidArgument {
		t.Errorf("decodeIoAttr(short) = %v, want ErrInvalidArgument", err)
	}
}

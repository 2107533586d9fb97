package dtc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// frameOf builds a binary frame of the given total size and type.
func frameOf(size int, t MessageType, fill byte) []byte {
	b := bytes.Repeat([]byte{fill}, size)
	binary.LittleEndian.PutUint16(b, uint16(size))
	binary.LittleEndian.PutUint16(b[2:], uint16(t))
	return b
}

// drain collects copies of every complete frame currently buffered.
func drain(t *testing.T, f Framer) [][]byte {
	t.Helper()
	var out [][]byte
	for {
		frame, err := f.Next()
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if frame == nil {
			return out
		}
		out = append(out, append([]byte(nil), frame...))
	}
}

func testStream() ([]byte, [][]byte) {
	frames := [][]byte{
		frameOf(16, TypeHeartbeat, 0x01),
		frameOf(100, TypeMarketDataSnapshot, 0x02),
		frameOf(4, 9999, 0x03),
		frameOf(40, TypeMarketDataUpdateTrade, 0x04),
		frameOf(48, TypeMarketDataUpdateBidAsk, 0x05),
	}
	return bytes.Join(frames, nil), frames
}

func TestBinaryFramer_Fragmentation(t *testing.T) {
	stream, want := testStream()

	for _, chunk := range []int{1, 2, 3, 5, 7, 13, 64, len(stream)} {
		f := NewBinaryFramer(0)
		var got [][]byte
		for i := 0; i < len(stream); i += chunk {
			end := min(i+chunk, len(stream))
			f.Feed(stream[i:end])
			got = append(got, drain(t, f)...)
		}

		if len(got) != len(want) {
			t.Fatalf("chunk %d: got %d frames, want %d", chunk, len(got), len(want))
		}
		for i := range want {
			if !bytes.Equal(got[i], want[i]) {
				t.Errorf("chunk %d: frame %d differs", chunk, i)
			}
		}
	}
}

func TestBinaryFramer_Coalescing(t *testing.T) {
	stream, want := testStream()

	f := NewBinaryFramer(0)
	f.Feed(stream)
	got := drain(t, f)

	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i, frame := range got {
		size := int(binary.LittleEndian.Uint16(frame))
		if len(frame) != size {
			t.Errorf("frame %d: len = %d, declared size %d", i, len(frame), size)
		}
	}
}

func TestBinaryFramer_PartialFrameWaits(t *testing.T) {
	frame := frameOf(100, TypeMarketDataSnapshot, 0)
	f := NewBinaryFramer(0)

	f.Feed(frame[:60])
	if got, err := f.Next(); got != nil || err != nil {
		t.Fatalf("Next() = %v, %v; want nil, nil with 60 of 100 bytes", got, err)
	}

	f.Feed(frame[60:])
	got, err := f.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(got) != 100 {
		t.Errorf("len(frame) = %d, want 100", len(got))
	}
}

func TestBinaryFramer_HeaderSplit(t *testing.T) {
	frame := frameOf(16, TypeHeartbeat, 0)
	f := NewBinaryFramer(0)

	f.Feed(frame[:1])
	if got, _ := f.Next(); got != nil {
		t.Fatal("frame returned from a 1-byte buffer")
	}
	f.Feed(frame[1:3])
	if got, _ := f.Next(); got != nil {
		t.Fatal("frame returned from a 3-byte buffer")
	}
	f.Feed(frame[3:])
	if got := drain(t, f); len(got) != 1 {
		t.Errorf("got %d frames, want 1", len(got))
	}
}

func TestBinaryFramer_UndersizedPrefix(t *testing.T) {
	f := NewBinaryFramer(0)
	f.Feed([]byte{2, 0, 3, 0, 9, 9, 9})

	_, err := f.Next()
	var fe *FramingError
	if !errors.As(err, &fe) {
		t.Fatalf("Next() error = %v, want *FramingError", err)
	}
	if !errors.Is(err, ErrFraming) {
		t.Error("errors.Is(err, ErrFraming) = false")
	}
	if fe.Size != 2 {
		t.Errorf("Size = %d, want 2", fe.Size)
	}

	// The buffer was discarded; the framer is usable again.
	f.Feed(frameOf(16, TypeHeartbeat, 0))
	if got := drain(t, f); len(got) != 1 {
		t.Errorf("got %d frames after recovery, want 1", len(got))
	}
}

func TestBinaryFramer_OversizedFrameSkipped(t *testing.T) {
	f := NewBinaryFramer(MinFrameSize)
	big := frameOf(600, TypeMarketDataSnapshot, 0xEE)
	next := frameOf(16, TypeHeartbeat, 0)

	// Deliver the oversized frame across several feeds followed by a valid one.
	f.Feed(big[:50])
	if _, err := f.Next(); !errors.Is(err, ErrFraming) {
		t.Fatalf("Next() error = %v, want framing error", err)
	}
	f.Feed(big[50:400])
	if got := drain(t, f); len(got) != 0 {
		t.Fatalf("got %d frames while skipping, want 0", len(got))
	}
	f.Feed(append(append([]byte(nil), big[400:]...), next...))

	got := drain(t, f)
	if len(got) != 1 || !bytes.Equal(got[0], next) {
		t.Fatalf("got %d frames after skip, want the heartbeat", len(got))
	}
}

func TestClampFrameSize(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"zero uses default", 0, DefaultMaxFrameSize},
		{"negative uses default", -1, DefaultMaxFrameSize},
		{"below logon response", 64, MinFrameSize},
		{"at floor", MinFrameSize, MinFrameSize},
		{"in range", 4096, 4096},
		{"above limit", 1 << 20, MaxFrameSizeLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clampFrameSize(tt.in); got != tt.want {
				t.Errorf("clampFrameSize(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
	if EncodedSize(TypeLogonResponse) > MinFrameSize {
		t.Errorf("LogonResponse size %d exceeds MinFrameSize %d", EncodedSize(TypeLogonResponse), MinFrameSize)
	}
}

func TestBinaryFramer_SmallCapStillFramesLogonResponse(t *testing.T) {
	f := NewBinaryFramer(64)
	logon := frameOf(EncodedSize(TypeLogonResponse), TypeLogonResponse, 0)
	f.Feed(logon)

	got := drain(t, f)
	if len(got) != 1 || !bytes.Equal(got[0], logon) {
		t.Fatalf("got %d frames, want the LogonResponse", len(got))
	}
}

func TestBinaryFramer_Reset(t *testing.T) {
	f := NewBinaryFramer(0)
	frame := frameOf(16, TypeHeartbeat, 0)
	f.Feed(frame[:10])

	rest := f.Reset()
	if !bytes.Equal(rest, frame[:10]) {
		t.Errorf("Reset() = %v, want the 10 pending bytes", rest)
	}
	if got, _ := f.Next(); got != nil {
		t.Error("Next() returned a frame after Reset")
	}
}

func TestBinaryFramer_CompactionKeepsOrder(t *testing.T) {
	f := NewBinaryFramer(0)
	var n int
	for i := 0; i < 1000; i++ {
		fr := frameOf(16, TypeHeartbeat, byte(i))
		f.Feed(fr[:7])
		f.Feed(fr[7:])
		for _, got := range drain(t, f) {
			if got[4] != byte(n) {
				t.Fatalf("frame %d carries %d", n, got[4])
			}
			n++
		}
	}
	if n != 1000 {
		t.Errorf("frames = %d, want 1000", n)
	}
}

func TestNULFramer(t *testing.T) {
	f := NewNULFramer(0)
	f.Feed([]byte(`{"Type":3}` + "\x00" + `{"Ty`))
	got := drain(t, f)
	if len(got) != 1 || string(got[0]) != `{"Type":3}` {
		t.Fatalf("got %q", got)
	}

	f.Feed([]byte(`pe":7}` + "\x00\x00"))
	got = drain(t, f)
	if len(got) != 1 || string(got[0]) != `{"Type":7}` {
		t.Fatalf("got %q", got)
	}
}

func TestNULFramer_Unterminated(t *testing.T) {
	f := NewNULFramer(MinFrameSize)
	f.Feed(bytes.Repeat([]byte("x"), MinFrameSize+1))
	if _, err := f.Next(); !errors.Is(err, ErrFraming) {
		t.Fatalf("Next() error = %v, want framing error", err)
	}
	f.Feed([]byte("{}\x00"))
	if got := drain(t, f); len(got) != 1 {
		t.Errorf("got %d frames after recovery, want 1", len(got))
	}
}

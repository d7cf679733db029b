package playback

import "testing"

func TestPCMBufferReadDrainsPushedData(t *testing.T) {
	b := newPCMBuffer(64)
	b.push([]byte{1, 2, 3, 4})

	p := make([]byte, 3)
	n, err := b.Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 3 || p[0] != 1 || p[2] != 3 {
		t.Errorf("read %d bytes %v", n, p[:n])
	}

	n, err = b.Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 1 || p[0] != 4 {
		t.Errorf("read %d bytes %v", n, p[:n])
	}
}

func TestPCMBufferBlocksUntilPush(t *testing.T) {
	b := newPCMBuffer(64)

	got := make(chan []byte, 1)
	go func() {
		p := make([]byte, 8)
		n, _ := b.Read(p)
		got <- p[:n]
	}()

	b.push([]byte{9, 9})
	if data := <-got; len(data) != 2 || data[0] != 9 {
		t.Errorf("read %v", data)
	}
}

func TestPCMBufferSilenceAfterClose(t *testing.T) {
	b := newPCMBuffer(64)
	b.push([]byte{5})
	b.close()

	p := make([]byte, 4)
	n, err := b.Read(p)
	if err != nil || n != 1 {
		t.Fatalf("read %d, %v; want pending byte first", n, err)
	}

	n, err = b.Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(p) {
		t.Errorf("silence read = %d, want full buffer", n)
	}
	for i, v := range p {
		if v != 0 {
			t.Fatalf("p[%d] = %d, want silence", i, v)
		}
	}

	// push after close is dropped
	b.push([]byte{7})
	n, _ = b.Read(p)
	if n != len(p) || p[0] != 0 {
		t.Error("buffer accepted data after close")
	}
}

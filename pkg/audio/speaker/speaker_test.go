package speaker

import (
	"io"
	"testing"
	"time"
)

func TestPipeStream_CopiesChunks(t *testing.T) {
	t.Parallel()
	stream := make(chan []byte, 2)
	stream <- []byte{1, 2}
	stream <- []byte{3}
	close(stream)

	got, err := io.ReadAll(pipeStream(stream))
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string([]byte{1, 2, 3}) {
		t.Errorf("got %v, want [1 2 3]", got)
	}
}

func TestPipeStream_ReaderCloseReleasesProducer(t *testing.T) {
	t.Parallel()
	stream := make(chan []byte)
	pr := pipeStream(stream)
	pr.Close()

	// Unbuffered sends only complete while the copier keeps draining.
	done := make(chan struct{})
	go func() {
		for range 5 {
			stream <- []byte{0, 0}
		}
		close(stream)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked after reader was closed")
	}
}

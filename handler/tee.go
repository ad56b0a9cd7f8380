package handler

import (
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/mediacache/rangeproxy/chunkstore"
)

// chanReader presents a bounded channel of byte slices as an io.Reader. A
// closed channel signals EOF once its buffered slices are drained.
type chanReader struct {
	ch  <-chan []byte
	buf []byte
}

func (r *chanReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		b, ok := <-r.ch
		if !ok {
			return 0, io.EOF
		}
		r.buf = b
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// teeToClientAndStore reads body once and fans it out to w (the client
// response) and store.WriteStream (the cache fill), coordinated by an
// errgroup. A slow store write applies backpressure to the origin read via
// the bounded channel; a store-side failure is logged and the store side
// is abandoned without affecting the client stream, per spec §7's Cache
// I/O policy.
func (h *Handler) teeToClientAndStore(w io.Writer, body io.Reader, store *chunkstore.Store, startOffset int64) error {
	ch := make(chan []byte, defaultBackpressureChunks)
	storeDone := make(chan struct{})

	g := &errgroup.Group{}
	g.Go(func() error {
		defer close(storeDone)
		err := store.WriteStream(&chanReader{ch: ch}, startOffset)
		if err != nil {
			h.log.WithError(err).Warn("rangeproxy: cache fill abandoned")
		}
		return err
	})

	clientErr := h.pump(w, body, ch, storeDone)
	_ = g.Wait()

	return clientErr
}

// pump drives the single read loop over body, writing every chunk to w and
// offering a copy to ch for the store-fill goroutine. Once the store
// goroutine has exited (storeDone closed, whether on success or failure),
// further sends on ch are skipped so the read loop never blocks on a dead
// consumer.
func (h *Handler) pump(w io.Writer, body io.Reader, ch chan []byte, storeDone <-chan struct{}) error {
	defer close(ch)

	buf := make([]byte, 64*1024)
	var clientErr error

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])

			if clientErr == nil {
				if _, werr := w.Write(data); werr != nil {
					clientErr = werr
				}
			}

			select {
			case ch <- data:
			case <-storeDone:
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if clientErr != nil {
				return clientErr
			}
			return fmt.Errorf("handler: read origin body: %w", rerr)
		}
	}

	return clientErr
}

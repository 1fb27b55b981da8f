package spi

import (
	"context"

	"periphcore/errcode"
)

// Transfer clocks out w and returns the byte clocked in.
func (b *Bus) Transfer(w byte) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return 0, errcode.NotInitialized
	}
	r, err := b.hw.Transfer(w)
	if err != nil {
		return 0, errcode.Wrap(errcode.Error, "spi.transfer", err)
	}
	return r, nil
}

// Transfer16 exchanges two bytes in the configured bit order: high byte
// first unless LSBFirst.
func (b *Bus) Transfer16(w uint16) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return 0, errcode.NotInitialized
	}
	out := [2]byte{byte(w >> 8), byte(w)}
	if b.settings.LSBFirst {
		out[0], out[1] = out[1], out[0]
	}
	var in [2]byte
	if err := b.hw.Tx(out[:], in[:]); err != nil {
		return 0, errcode.Wrap(errcode.Error, "spi.transfer16", err)
	}
	if b.settings.LSBFirst {
		return uint16(in[1])<<8 | uint16(in[0]), nil
	}
	return uint16(in[0])<<8 | uint16(in[1]), nil
}

func (b *Bus) Receive() (byte, error) { return b.Transfer(0xFF) }

func (b *Bus) Receive16() (uint16, error) { return b.Transfer16(0xFFFF) }

// chunks walks w and r in MaxChunk pieces. Either may be nil; when both
// are set they must be the same length.
func chunks(w, r []byte, fn func(w, r []byte) error) error {
	n := max(len(w), len(r))
	if w != nil && r != nil && len(w) != len(r) {
		return errcode.InvalidParams
	}
	for off := 0; off < n; off += MaxChunk {
		end := min(off+MaxChunk, n)
		var wc, rc []byte
		if w != nil {
			wc = w[off:end]
		}
		if r != nil {
			rc = r[off:end]
		}
		if err := fn(wc, rc); err != nil {
			return err
		}
	}
	return nil
}

// Tx is a blocking full-duplex transfer.
func (b *Bus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return errcode.NotInitialized
	}
	return chunks(w, r, func(wc, rc []byte) error {
		if err := b.hw.Tx(wc, rc); err != nil {
			return errcode.Wrap(errcode.Error, "spi.tx", err)
		}
		return nil
	})
}

// ReceiveBuf fills r, clocking out 0xFF.
func (b *Bus) ReceiveBuf(r []byte) error { return b.Tx(nil, r) }

// TxDMA runs the transfer on the DMA path, one chunk at a time, waiting
// on each completion. Cancelling ctx stops issuing chunks; a chunk
// already started is waited out before the bus is released.
func (b *Bus) TxDMA(ctx context.Context, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return errcode.NotInitialized
	}
	done := make(chan error, 1)
	return chunks(w, r, func(wc, rc []byte) error {
		if err := b.hw.StartTx(wc, rc, func(err error) { done <- err }); err != nil {
			return errcode.Wrap(errcode.Error, "spi.tx_dma", err)
		}
		select {
		case err := <-done:
			if err != nil {
				return errcode.Wrap(errcode.Error, "spi.tx_dma", err)
			}
			return nil
		case <-ctx.Done():
			b.log.Warn("dma transfer cancelled, draining chunk", "err", ctx.Err())
			<-done
			return errcode.Wrap(errcode.MapDriverErr(ctx.Err()), "spi.tx_dma", ctx.Err())
		}
	})
}

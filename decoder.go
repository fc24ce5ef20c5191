package hypergrep

import "fmt"

// HitContext is a decoded window of bytes around a hit. ContextBegin and
// ContextEnd are stream offsets of the window; ContextHitBegin and
// ContextHitEnd locate the hit relative to ContextBegin.
type HitContext struct {
	ContextBegin    uint64 `json:"context_begin"`
	ContextEnd      uint64 `json:"context_end"`
	ContextHitBegin uint64 `json:"context_hit_begin"`
	ContextHitEnd   uint64 `json:"context_hit_end"`
	Text            string `json:"hit_context"`
}

// HitDecoder turns hits back into text using the encoding they matched in
type HitDecoder struct {
	handle *Handle
}

// NewHitDecoder returns an open HitDecoder
func NewHitDecoder() *HitDecoder {
	return &HitDecoder{handle: NewHandle(acquireHandle())}
}

// HitContext returns the decoded text of the window of window bytes on
// either side of hit, clipped to buf. buf holds the stream bytes starting at
// offset.
func (d *HitDecoder) HitContext(buf []byte, offset uint64, hit Hit, window int) (string, error) {
	hc, err := d.FullHitContext(buf, offset, hit, window)
	if err != nil {
		return "", err
	}
	return hc.Text, nil
}

// FullHitContext is HitContext with the window bounds. Window edges are
// pulled inwards to whole code units of the hit's encoding.
func (d *HitDecoder) FullHitContext(buf []byte, offset uint64, hit Hit, window int) (HitContext, error) {
	if d == nil {
		return HitContext{}, argError("nil hit decoder")
	}
	if !d.handle.IsOpen() {
		return HitContext{}, closedError("hit decoder")
	}
	if window < 0 {
		return HitContext{}, argError("negative window %d", window)
	}
	if hit.End < hit.Start {
		return HitContext{}, argError("hit ends at %d before it starts at %d", hit.End, hit.Start)
	}
	var bufEnd = offset + uint64(len(buf))
	if hit.Start < offset || hit.End > bufEnd {
		return HitContext{}, argError("hit [%d, %d) outside buffer [%d, %d)", hit.Start, hit.End, offset, bufEnd)
	}
	enc, err := lookupEncoder(hit.EncChain)
	if err != nil {
		return HitContext{}, fmt.Errorf("hit encoding: %w", err)
	}

	var (
		unit     = uint64(enc.unitSize())
		w        = uint64(window)
		hitBegin = hit.Start - offset
		hitEnd   = hit.End - offset
		begin    = hitBegin - min(hitBegin, w)
		end      = min(uint64(len(buf)), hitEnd+w)
	)
	begin += (hitBegin - begin) % unit
	end -= (end - hitEnd) % unit

	return HitContext{
		ContextBegin:    offset + begin,
		ContextEnd:      offset + end,
		ContextHitBegin: hitBegin - begin,
		ContextHitEnd:   hitEnd - begin,
		Text:            enc.decode(buf[begin:end]),
	}, nil
}

// Close releases the decoder; it is idempotent
func (d *HitDecoder) Close() error {
	if d != nil {
		d.handle.Close()
	}
	return nil
}

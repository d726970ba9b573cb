package tkvdb

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestFooterLayoutWidths(t *testing.T) {
	// These widths are wire format; a change here makes existing files
	// unreadable.
	assert.Equal(t, 49, footerBytes)
	assert.Equal(t, 9, trHeaderBytes)
	assert.Equal(t, 11, diskNodeHeaderBytes)
	assert.Equal(t, 224, subnodesThreshold)
}

func TestFooterRoundTrip(t *testing.T) {
	f := footer{
		typ:             blockTypeFooter,
		rootOff:         0x1122334455,
		transactionSize: 4096,
		transactionID:   7,
		gapBegin:        100,
		gapEnd:          200,
	}
	f.setSignature()
	assert.Assert(t, f.signatureOK())

	b, err := f.MarshalBinary()
	assert.NilError(t, err)
	assert.Equal(t, footerBytes, len(b))

	var g footer
	assert.NilError(t, g.UnmarshalBinary(b))
	assert.Equal(t, f, g)
}

func TestFooterUnmarshalShort(t *testing.T) {
	var f footer
	err := f.UnmarshalBinary(make([]byte, footerBytes-1))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestTrHeaderRoundTrip(t *testing.T) {
	h := trHeader{typ: blockTypeTransaction, footerOff: 123456}
	var b [trHeaderBytes]byte
	h.marshalInto(b[:])

	var g trHeader
	assert.NilError(t, g.UnmarshalBinary(b[:]))
	assert.Equal(t, h, g)
}

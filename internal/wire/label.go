// Package wire holds the on-the-wire types exchanged with a publisher's
// subscription endpoint: labels, frames, and the canonical encoding used
// both for transport and for the label signing payload.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Label is both the wire shape and (minus Sig and Ver) the database row
// shape described in SPEC_FULL.md §3.
type Label struct {
	Ver *int64  `cbor:"ver,omitempty"`
	Src string  `cbor:"src"`
	URI string  `cbor:"uri"`
	CID *string `cbor:"cid,omitempty"`
	Val string  `cbor:"val"`
	Neg *bool   `cbor:"neg,omitempty"`
	CTS string  `cbor:"cts"`
	Exp *string `cbor:"exp,omitempty"`
	Sig []byte  `cbor:"sig"`
}

// IsNeg reports the effective value of the optional Neg field.
func (l Label) IsNeg() bool {
	return l.Neg != nil && *l.Neg
}

// LabelsFrame is the body of a "#labels" frame.
type LabelsFrame struct {
	Seq    int64   `cbor:"seq"`
	Labels []Label `cbor:"labels"`
}

// InfoFrame is the body of a "#info" frame.
type InfoFrame struct {
	Name    string  `cbor:"name"`
	Message *string `cbor:"message,omitempty"`
}

// signingPayload mirrors Label but omits Sig and fixes the field encoding
// order to ver, src, uri, cid, val, neg, cts, exp as required by
// SPEC_FULL.md §3.1. Struct field order, not canonical key sorting, is
// what pins this order: github.com/fxamacker/cbor/v2 encodes map keys in
// declaration order unless EncOptions requests canonical sorting, and
// canonical sorting here would reorder same-length keys lexicographically
// (cid, cts, exp, neg, src, uri, val, ver) which is not what publishers sign.
type signingPayload struct {
	Ver *int64  `cbor:"ver,omitempty"`
	Src string  `cbor:"src"`
	URI string  `cbor:"uri"`
	CID *string `cbor:"cid,omitempty"`
	Val string  `cbor:"val"`
	Neg *bool   `cbor:"neg,omitempty"`
	CTS string  `cbor:"cts"`
	Exp *string `cbor:"exp,omitempty"`
}

var signEncMode = func() cbor.EncMode {
	em, err := cbor.EncOptions{
		Sort:        cbor.SortNone,
		OmitEmpty:   cbor.OmitEmptyGoValue,
		IndefLength: cbor.IndefLengthForbidden,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: building signing EncMode: %v", err))
	}
	return em
}()

// SigningPayload returns the deterministic byte sequence a publisher signs
// for the given label (SPEC_FULL.md §3.1 / spec.md §4.D.i).
func SigningPayload(l Label) ([]byte, error) {
	p := signingPayload{
		Ver: l.Ver,
		Src: l.Src,
		URI: l.URI,
		CID: l.CID,
		Val: l.Val,
		Neg: l.Neg,
		CTS: l.CTS,
		Exp: l.Exp,
	}
	b, err := signEncMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode signing payload: %w", err)
	}
	return b, nil
}

package wallet

import (
	"fmt"
	"github.com/btcsuite/btcd/txscript"
)

const (
	// RawSignatureLen is the length of a raw r || s
	// signature as returned by a signing oracle.
	RawSignatureLen = 64

	asn1Sequence = 0x30
	asn1Integer  = 0x02
)

// placeholderSignature stands in for a real signature
// when only the serialized size of a transaction is needed.
// 0xff bytes force the 0x00 pad on both integers, so the
// placeholder is never shorter than a real signature.
var placeholderSignature = func() []byte {
	sig := make([]byte, RawSignatureLen)
	for i := range sig {
		sig[i] = 0xff
	}
	return sig
}()

// SignatureToDER re-encodes a raw 64 byte r || s signature
// as an ASN.1 DER SEQUENCE of two INTEGERs. Both integers
// are minimally encoded, with a 0x00 byte prepended when
// the high bit is set. It panics if sig is not 64 bytes.
func SignatureToDER(sig []byte) []byte {
	if len(sig) != RawSignatureLen {
		panic(fmt.Sprintf("raw signature must be %d bytes, got %d", RawSignatureLen, len(sig)))
	}

	r := derInteger(sig[:32])
	s := derInteger(sig[32:])

	der := make([]byte, 0, 6+len(r)+len(s))
	der = append(der, asn1Sequence, byte(4+len(r)+len(s)))
	der = append(der, asn1Integer, byte(len(r)))
	der = append(der, r...)
	der = append(der, asn1Integer, byte(len(s)))
	der = append(der, s...)

	return der
}

// derInteger returns the content octets of an unsigned
// big endian integer.
func derInteger(b []byte) []byte {
	for len(b) > 1 && b[0] == 0x00 && b[1]&0x80 == 0 {
		b = b[1:]
	}

	out := make([]byte, 0, len(b)+1)
	if b[0]&0x80 != 0 {
		out = append(out, 0x00)
	}

	return append(out, b...)
}

// NewTxSignature converts a raw oracle signature into
// a TxSignature carrying the hash type.
func NewTxSignature(raw []byte, hashType txscript.SigHashType) *TxSignature {
	return &TxSignature{
		HashType:  hashType,
		Signature: SignatureToDER(raw),
	}
}

// TxSignature captures a DER encoded signature and
// the signatures hashtype.
type TxSignature struct {
	HashType  txscript.SigHashType
	Signature []byte
}

// Serialize will take the hashType and DER signature and
// produce the witness element
func (sigInfo *TxSignature) Serialize() []byte {
	ecSig := make([]byte, 0, len(sigInfo.Signature)+1)
	ecSig = append(ecSig, sigInfo.Signature...)
	ecSig = append(ecSig, byte(int(sigInfo.HashType)))
	return ecSig
}

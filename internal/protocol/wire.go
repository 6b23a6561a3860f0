package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/fednorm/fednorm/internal/errs"
	"github.com/fednorm/fednorm/internal/store"
)

// Kind discriminates the payload carried by an Envelope. Spec section 9
// calls for pinning a length-prefixed binary encoding with a leading
// round/mode byte, replacing the original substrate's language-reflective
// serializer (jsonpickle) "to remove any cross-version fragility".
type Kind byte

const (
	KindLocalMeans Kind = iota + 1
	KindGlobalMeans
	KindLocalZeros
	KindGlobalZeros
	KindUQVector
	KindScalingFactor
)

// Round identifies which of the protocol's two communication rounds an
// Envelope belongs to.
type Round byte

const (
	RoundOne Round = 1
	RoundTwo Round = 2
)

// Envelope is one message exchanged between a participant and the
// coordinator. RunID ties every envelope in a run together; ParticipantID
// identifies the sender (used for the site-id-ascending ordering the
// scaling-factor concatenation requires).
type Envelope struct {
	RunID         uuid.UUID
	ParticipantID string
	Round         Round
	Kind          Kind
	Payload       []byte
}

// Encode serializes e as: [16B run id][2B participant-id len][id bytes]
// [1B round][1B kind][4B payload len][payload bytes], all little-endian.
func (e Envelope) Encode() []byte {
	idBytes := []byte(e.ParticipantID)
	buf := make([]byte, 0, 16+2+len(idBytes)+1+1+4+len(e.Payload))
	runBytes, _ := e.RunID.MarshalBinary()
	buf = append(buf, runBytes...)
	buf = appendUint16(buf, uint16(len(idBytes)))
	buf = append(buf, idBytes...)
	buf = append(buf, byte(e.Round), byte(e.Kind))
	buf = appendUint32(buf, uint32(len(e.Payload)))
	buf = append(buf, e.Payload...)
	return buf
}

// DecodeEnvelope is the inverse of Encode.
func DecodeEnvelope(b []byte) (Envelope, error) {
	if len(b) < 16+2 {
		return Envelope{}, errs.ProtocolError(fmt.Errorf("envelope too short: %d bytes", len(b)))
	}
	var e Envelope
	if err := e.RunID.UnmarshalBinary(b[:16]); err != nil {
		return Envelope{}, errs.ProtocolError(fmt.Errorf("decode run id: %w", err))
	}
	b = b[16:]
	idLen := int(binary.LittleEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < idLen+1+1+4 {
		return Envelope{}, errs.ProtocolError(fmt.Errorf("envelope truncated after header"))
	}
	e.ParticipantID = string(b[:idLen])
	b = b[idLen:]
	e.Round = Round(b[0])
	e.Kind = Kind(b[1])
	b = b[2:]
	payloadLen := int(binary.LittleEndian.Uint32(b[:4]))
	b = b[4:]
	if len(b) < payloadLen {
		return Envelope{}, errs.ProtocolError(fmt.Errorf("envelope payload truncated: want %d have %d", payloadLen, len(b)))
	}
	e.Payload = append([]byte(nil), b[:payloadLen]...)
	return e, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendFloat64(buf []byte, v float64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(v))
	return append(buf, tmp[:]...)
}

func readFloat64(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// EncodeLocalMeans serializes a quantile round-1 payload: [4B m_eff][4B
// len(Sum)][Sum as 8B little-endian float64s].
func EncodeLocalMeans(v store.LocalMeanVector) []byte {
	buf := make([]byte, 0, 8+8*len(v.Sum))
	buf = appendUint32(buf, uint32(v.MEff))
	buf = appendUint32(buf, uint32(len(v.Sum)))
	for _, x := range v.Sum {
		buf = appendFloat64(buf, x)
	}
	return buf
}

// DecodeLocalMeans is the inverse of EncodeLocalMeans. It rejects
// payloads that are the wrong shape to be a (m_eff, vector) pair — this
// is how a bare-vector payload from an earlier protocol variant (spec
// section 9's third Open Question) is rejected with ProtocolError rather
// than silently misinterpreted.
func DecodeLocalMeans(b []byte) (store.LocalMeanVector, error) {
	if len(b) < 8 {
		return store.LocalMeanVector{}, errs.ProtocolError(errBareVectorPayload)
	}
	mEff := int(binary.LittleEndian.Uint32(b[:4]))
	n := int(binary.LittleEndian.Uint32(b[4:8]))
	b = b[8:]
	if len(b) != n*8 {
		return store.LocalMeanVector{}, errs.ProtocolError(errBareVectorPayload)
	}
	sum := make([]float64, n)
	for i := 0; i < n; i++ {
		sum[i] = readFloat64(b[i*8:])
	}
	return store.LocalMeanVector{MEff: mEff, Sum: sum}, nil
}

// EncodeFloatVector serializes a plain []float64 as [4B len][8B floats].
func EncodeFloatVector(v []float64) []byte {
	buf := make([]byte, 0, 4+8*len(v))
	buf = appendUint32(buf, uint32(len(v)))
	for _, x := range v {
		buf = appendFloat64(buf, x)
	}
	return buf
}

// DecodeFloatVector is the inverse of EncodeFloatVector.
func DecodeFloatVector(b []byte) ([]float64, error) {
	if len(b) < 4 {
		return nil, errs.ProtocolError(errTruncatedVector)
	}
	n := int(binary.LittleEndian.Uint32(b[:4]))
	b = b[4:]
	if len(b) != n*8 {
		return nil, errs.ProtocolError(errTruncatedVector)
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = readFloat64(b[i*8:])
	}
	return out, nil
}

// EncodeFloat64 serializes a single scalar.
func EncodeFloat64(v float64) []byte {
	return appendFloat64(nil, v)
}

// DecodeFloat64 is the inverse of EncodeFloat64.
func DecodeFloat64(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, errs.ProtocolError(errTruncatedScalar)
	}
	return readFloat64(b), nil
}

// EncodeIntVector serializes a plain []int as [4B len][4B int32s].
func EncodeIntVector(v []int) []byte {
	buf := make([]byte, 0, 4+4*len(v))
	buf = appendUint32(buf, uint32(len(v)))
	for _, x := range v {
		buf = appendUint32(buf, uint32(int32(x)))
	}
	return buf
}

// DecodeIntVector is the inverse of EncodeIntVector.
func DecodeIntVector(b []byte) ([]int, error) {
	if len(b) < 4 {
		return nil, errs.ProtocolError(errTruncatedVector)
	}
	n := int(binary.LittleEndian.Uint32(b[:4]))
	b = b[4:]
	if len(b) != n*4 {
		return nil, errs.ProtocolError(errTruncatedVector)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(int32(binary.LittleEndian.Uint32(b[i*4:])))
	}
	return out, nil
}

package httpcache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrDecode is returned when stored bytes cannot be decoded into an
// Envelope. The orchestrator treats it as a cache miss: a corrupt entry
// must never block traffic.
var ErrDecode = errors.New("corrupt or incompatible cache entry")

// envelopeMagic and envelopeVersion stamp every encoded envelope so that
// entries written by an incompatible release fail decoding cleanly
// instead of being misread.
var envelopeMagic = []byte("ACHE")

const envelopeVersion = 1

// Envelope is the unit of storage: a response snapshot together with the
// freshness evaluator's serialized policy snapshot. Once encoded it is
// immutable; updates replace the stored value wholesale.
type Envelope struct {
	// PolicyState is the evaluator's opaque, version-stamped snapshot.
	// It is stored and returned verbatim; the cache never inspects it.
	PolicyState []byte
	Response    *Response
}

// EncodeEnvelope serializes an envelope into the fixed binary format:
// a magic/version preamble followed by length-prefixed fields in
// deterministic order (policy state, status, HTTP version, URL, ordered
// header pairs, body).
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if e.Response == nil {
		return nil, fmt.Errorf("envelope has no response")
	}
	res := e.Response
	switch res.Version {
	case Version09, Version10, Version11, Version2, Version3:
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadVersion, res.Version)
	}
	size := len(envelopeMagic) + 1 + len(e.PolicyState) + len(res.URL) + len(res.Body) + 64
	for _, h := range res.Headers {
		size += len(h.Name) + len(h.Value) + 8
	}
	buf := make([]byte, 0, size)
	buf = append(buf, envelopeMagic...)
	buf = append(buf, envelopeVersion)
	buf = appendField(buf, e.PolicyState)
	buf = binary.AppendUvarint(buf, uint64(res.Status))
	buf = appendField(buf, []byte(res.Version))
	buf = appendField(buf, []byte(res.URL))
	buf = binary.AppendUvarint(buf, uint64(len(res.Headers)))
	for _, h := range res.Headers {
		buf = appendField(buf, []byte(h.Name))
		buf = appendField(buf, []byte(h.Value))
	}
	buf = appendField(buf, res.Body)
	return buf, nil
}

// DecodeEnvelope parses bytes previously produced by EncodeEnvelope.
// Any malformed input fails with an error wrapping ErrDecode.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	if len(b) < len(envelopeMagic)+1 || !bytes.Equal(b[:len(envelopeMagic)], envelopeMagic) {
		return nil, fmt.Errorf("%w: bad preamble", ErrDecode)
	}
	if v := b[len(envelopeMagic)]; v != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrDecode, v)
	}
	r := bytes.NewReader(b[len(envelopeMagic)+1:])

	policy, err := readField(r)
	if err != nil {
		return nil, err
	}
	status, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	version, err := readField(r)
	if err != nil {
		return nil, err
	}
	switch Version(version) {
	case Version09, Version10, Version11, Version2, Version3:
	default:
		return nil, fmt.Errorf("%w: unknown HTTP version %q", ErrDecode, version)
	}
	rawURL, err := readField(r)
	if err != nil {
		return nil, err
	}
	count, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	// Each header needs at least two length bytes, which bounds the
	// allocation for hostile counts.
	if count > uint64(r.Len())/2 {
		return nil, fmt.Errorf("%w: header count %d exceeds payload", ErrDecode, count)
	}
	headers := make([]Header, 0, count)
	for i := uint64(0); i < count; i++ {
		name, err := readField(r)
		if err != nil {
			return nil, err
		}
		value, err := readField(r)
		if err != nil {
			return nil, err
		}
		headers = append(headers, Header{Name: string(name), Value: string(value)})
	}
	body, err := readField(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecode, r.Len())
	}
	return &Envelope{
		PolicyState: policy,
		Response: &Response{
			Status:  int(status),
			Version: Version(version),
			Headers: headers,
			URL:     string(rawURL),
			Body:    body,
		},
	}, nil
}

func appendField(buf, field []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(field)))
	return append(buf, field...)
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return 0, fmt.Errorf("%w: truncated entry", ErrDecode)
	}
	return n, nil
}

func readField(r *bytes.Reader) ([]byte, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: field length %d exceeds payload", ErrDecode, n)
	}
	field := make([]byte, n)
	if _, err := io.ReadFull(r, field); err != nil {
		return nil, fmt.Errorf("%w: truncated entry", ErrDecode)
	}
	return field, nil
}

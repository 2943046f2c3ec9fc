package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decode consumes exactly the bytes of the message identified by tag, which
// the caller has already read. Tags with no kind and kinds outside the codec's
// version are protocol violations; the latter also match ErrNotSupported.
// Running out of input mid-message yields ErrTruncated. Other reader errors
// are returned as-is.
func (c *Codec) Decode(tag byte, r io.Reader) (Message, error) {
	kind, ok := KindForTag(tag)
	if !ok {
		return nil, &UnknownTagError{Tag: tag}
	}
	if !c.version.Supports(kind) {
		return nil, fmt.Errorf("%w: %w", ErrProtocolViolation, &NotSupportedError{Kind: kind, Version: c.version.Number()})
	}
	fr := &fieldReader{r: r, kind: kind, limits: c.limits}
	msg := decodeBody(kind, fr)
	if fr.err != nil {
		return nil, fr.err
	}
	return msg, nil
}

// ReadConfigurationPayload reads the body of a Configuration message: a
// 4-byte length and that many raw bytes.
func ReadConfigurationPayload(r io.Reader, limits Limits) ([]byte, error) {
	fr := &fieldReader{r: r, kind: KindConfiguration, limits: limits}
	payload := fr.readBytes()
	if fr.err != nil {
		return nil, fr.err
	}
	return payload, nil
}

// ReadText reads one length-prefixed modified UTF-8 text field.
func ReadText(r io.Reader) (string, error) {
	fr := &fieldReader{r: r, kind: KindError}
	s := fr.readText()
	if fr.err != nil {
		return "", fr.err
	}
	return s, nil
}

func decodeBody(kind Kind, fr *fieldReader) Message {
	switch kind {
	case KindHello:
		return Hello{Version: fr.readByte()}
	case KindProjectHello:
		return ProjectHello{Version: fr.readByte(), ProjectID: fr.readInt32()}
	case KindDataHello:
		return DataHello{RunID: fr.readInt8()}
	case KindDataHelloReply:
		return DataHelloReply{}
	case KindConfiguration:
		return Configuration{Payload: fr.readBytes()}
	case KindConfigurationText:
		return ConfigurationText{Text: fr.readText()}
	case KindError:
		return Error{Message: fr.readText()}
	case KindStart:
		return Start{}
	case KindStop:
		return Stop{}
	case KindPause:
		return Pause{}
	case KindUnpause:
		return Unpause{}
	case KindSuspend:
		return Suspend{}
	case KindUnsuspend:
		return Unsuspend{}
	case KindHeartbeat:
		return Heartbeat{Mode: fr.readMode(), SendBufferSize: fr.readInt16()}
	case KindDataBreak:
		return DataBreak{SequenceID: fr.readInt32()}
	case KindClassTransformed:
		return ClassTransformed{ClassName: fr.readText()}
	case KindClassTransformFailed:
		return ClassTransformFailed{ClassName: fr.readText()}
	case KindClassIgnored:
		return ClassIgnored{ClassName: fr.readText()}
	case KindMapThreadName:
		return MapThreadName{ThreadID: fr.readInt16(), RelTime: fr.readInt32(), Name: fr.readText()}
	case KindMapMethodSignature:
		return MapMethodSignature{SignatureID: fr.readInt32(), Signature: fr.readText()}
	case KindMapException:
		return MapException{ExceptionID: fr.readInt32(), Exception: fr.readText()}
	case KindMethodEntry:
		return MethodEntry{
			RelTime:     fr.readInt32(),
			Sequence:    fr.readInt32(),
			SignatureID: fr.readInt32(),
			ThreadID:    fr.readInt16(),
		}
	case KindMethodExit:
		return MethodExit{
			RelTime:         fr.readInt32(),
			Sequence:        fr.readInt32(),
			SignatureID:     fr.readInt32(),
			ExceptionThrown: fr.readBool(),
			ThreadID:        fr.readInt16(),
		}
	case KindMapSourceLocation:
		return MapSourceLocation{
			SourceLocationID: fr.readInt32(),
			SignatureID:      fr.readInt32(),
			StartLine:        fr.readInt32(),
			EndLine:          fr.readInt32(),
			StartCharacter:   fr.readInt16(),
			EndCharacter:     fr.readInt16(),
		}
	case KindMethodVisit:
		return MethodVisit{
			RelTime:          fr.readInt32(),
			Sequence:         fr.readInt32(),
			SignatureID:      fr.readInt32(),
			SourceLocationID: fr.readInt32(),
			ThreadID:         fr.readInt16(),
		}
	case KindSourceLocationCount:
		return SourceLocationCount{SignatureID: fr.readInt32(), Count: fr.readInt32()}
	default:
		fr.fail(fmt.Errorf("%w: no layout for %s", ErrProtocolViolation, kind))
		return nil
	}
}

// fieldReader reads big-endian fields from a stream. The first error sticks
// and every later read becomes a no-op, so no bytes are consumed past it.
type fieldReader struct {
	r       io.Reader
	kind    Kind
	limits  Limits
	err     error
	scratch [4]byte
}

func (fr *fieldReader) fail(err error) {
	if fr.err == nil {
		fr.err = err
	}
}

func (fr *fieldReader) read(p []byte) bool {
	if fr.err != nil {
		return false
	}
	if _, err := io.ReadFull(fr.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			fr.fail(fmt.Errorf("%w: %s: %w", ErrTruncated, fr.kind, io.ErrUnexpectedEOF))
		} else {
			fr.fail(err)
		}
		return false
	}
	return true
}

func (fr *fieldReader) readByte() byte {
	b := fr.scratch[:1]
	if !fr.read(b) {
		return 0
	}
	return b[0]
}

func (fr *fieldReader) readInt8() int8 {
	return int8(fr.readByte())
}

func (fr *fieldReader) readBool() bool {
	return fr.readByte() != 0
}

func (fr *fieldReader) readInt16() int16 {
	b := fr.scratch[:2]
	if !fr.read(b) {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

func (fr *fieldReader) readInt32() int32 {
	b := fr.scratch[:4]
	if !fr.read(b) {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (fr *fieldReader) readMode() AgentOperationMode {
	code := fr.readByte()
	if fr.err != nil {
		return 0
	}
	m, err := ModeForCode(code)
	if err != nil {
		fr.fail(err)
		return 0
	}
	return m
}

func (fr *fieldReader) readText() string {
	b := fr.scratch[:2]
	if !fr.read(b) {
		return ""
	}
	n := int(binary.BigEndian.Uint16(b))
	if n == 0 {
		return ""
	}
	body := make([]byte, n)
	if !fr.read(body) {
		return ""
	}
	s, err := decodeModifiedUTF8(body)
	if err != nil {
		fr.fail(err)
		return ""
	}
	return s
}

func (fr *fieldReader) readBytes() []byte {
	n := fr.readInt32()
	if fr.err != nil {
		return nil
	}
	if n < 0 {
		fr.fail(fmt.Errorf("%w: negative byte array length %d", ErrInvalidLength, n))
		return nil
	}
	if fr.limits.MaxPayloadBytes > 0 && int(n) > fr.limits.MaxPayloadBytes {
		fr.fail(fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPayloadTooLarge, n, fr.limits.MaxPayloadBytes))
		return nil
	}
	payload := make([]byte, n)
	if n > 0 && !fr.read(payload) {
		return nil
	}
	return payload
}

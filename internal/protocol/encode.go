package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"reflect"
)

// Encode writes msg to w as one frame: the tag byte followed by the kind's
// fields. The frame is assembled first and written with a single Write, so a
// failed encode leaves w untouched. Encode does not flush.
func (c *Codec) Encode(w io.Writer, msg Message) error {
	frame, err := c.AppendFrame(nil, msg)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// AppendFrame appends the encoded frame for msg to dst. A pointer to a
// message encodes as the message it points to.
func (c *Codec) AppendFrame(dst []byte, msg Message) ([]byte, error) {
	if msg == nil {
		return dst, ErrNilMessage
	}
	if v := reflect.ValueOf(msg); v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return dst, ErrNilMessage
		}
		elem, ok := v.Elem().Interface().(Message)
		if !ok {
			return dst, fmt.Errorf("protocol: cannot encode %T", msg)
		}
		msg = elem
	}
	kind := msg.Kind()
	if !c.version.Supports(kind) {
		return dst, &NotSupportedError{Kind: kind, Version: c.version.Number()}
	}
	b := frameBuilder{buf: dst}
	start := len(dst)
	b.writeByte(kind.Tag())
	if err := encodeBody(&b, msg); err != nil {
		return dst[:start], err
	}
	return b.buf, nil
}

func encodeBody(b *frameBuilder, msg Message) error {
	switch m := msg.(type) {
	case Hello:
		b.writeByte(m.Version)
	case ProjectHello:
		b.writeByte(m.Version)
		b.writeInt32(m.ProjectID)
	case DataHello:
		b.writeInt8(m.RunID)
	case DataHelloReply, Start, Stop, Pause, Unpause, Suspend, Unsuspend:
	case Configuration:
		return b.writeBytes(m.Payload)
	case ConfigurationText:
		return b.writeText(m.Text)
	case Error:
		return b.writeText(m.Message)
	case Heartbeat:
		b.writeByte(m.Mode.Code())
		b.writeInt16(m.SendBufferSize)
	case DataBreak:
		b.writeInt32(m.SequenceID)
	case ClassTransformed:
		return b.writeText(m.ClassName)
	case ClassTransformFailed:
		return b.writeText(m.ClassName)
	case ClassIgnored:
		return b.writeText(m.ClassName)
	case MapThreadName:
		b.writeInt16(m.ThreadID)
		b.writeInt32(m.RelTime)
		return b.writeText(m.Name)
	case MapMethodSignature:
		b.writeInt32(m.SignatureID)
		return b.writeText(m.Signature)
	case MapException:
		b.writeInt32(m.ExceptionID)
		return b.writeText(m.Exception)
	case MethodEntry:
		b.writeInt32(m.RelTime)
		b.writeInt32(m.Sequence)
		b.writeInt32(m.SignatureID)
		b.writeInt16(m.ThreadID)
	case MethodExit:
		b.writeInt32(m.RelTime)
		b.writeInt32(m.Sequence)
		b.writeInt32(m.SignatureID)
		b.writeBool(m.ExceptionThrown)
		b.writeInt16(m.ThreadID)
	case MapSourceLocation:
		b.writeInt32(m.SourceLocationID)
		b.writeInt32(m.SignatureID)
		b.writeInt32(m.StartLine)
		b.writeInt32(m.EndLine)
		b.writeInt16(m.StartCharacter)
		b.writeInt16(m.EndCharacter)
	case MethodVisit:
		b.writeInt32(m.RelTime)
		b.writeInt32(m.Sequence)
		b.writeInt32(m.SignatureID)
		b.writeInt32(m.SourceLocationID)
		b.writeInt16(m.ThreadID)
	case SourceLocationCount:
		b.writeInt32(m.SignatureID)
		b.writeInt32(m.Count)
	default:
		return fmt.Errorf("protocol: cannot encode %T", msg)
	}
	return nil
}

// frameBuilder appends big-endian fields to a frame buffer.
type frameBuilder struct {
	buf []byte
}

func (b *frameBuilder) writeByte(v byte) {
	b.buf = append(b.buf, v)
}

func (b *frameBuilder) writeInt8(v int8) {
	b.buf = append(b.buf, byte(v))
}

func (b *frameBuilder) writeInt16(v int16) {
	b.buf = binary.BigEndian.AppendUint16(b.buf, uint16(v))
}

func (b *frameBuilder) writeInt32(v int32) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(v))
}

func (b *frameBuilder) writeBool(v bool) {
	if v {
		b.buf = append(b.buf, 1)
		return
	}
	b.buf = append(b.buf, 0)
}

// writeText appends a 2-byte length prefix and the modified UTF-8 body.
func (b *frameBuilder) writeText(s string) error {
	start := len(b.buf)
	b.buf = append(b.buf, 0, 0)
	b.buf = appendModifiedUTF8(b.buf, s)
	n := len(b.buf) - start - 2
	if n > MaxTextBytes {
		b.buf = b.buf[:start]
		return fmt.Errorf("%w: %d bytes", ErrTextTooLong, n)
	}
	binary.BigEndian.PutUint16(b.buf[start:start+2], uint16(n))
	return nil
}

// writeBytes appends a 4-byte length prefix and the raw bytes.
func (b *frameBuilder) writeBytes(p []byte) error {
	if len(p) > math.MaxInt32 {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(p))
	}
	b.writeInt32(int32(len(p)))
	b.buf = append(b.buf, p...)
	return nil
}

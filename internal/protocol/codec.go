package protocol

import "io"

// Limits constrains decode memory use.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// Codec encodes and decodes messages for one protocol version. A Codec holds
// no per-connection state; callers serialize access to the underlying stream.
type Codec struct {
	version Version
	limits  Limits
}

func NewCodec(version Version, limits Limits) *Codec {
	if limits.MaxPayloadBytes <= 0 {
		limits = DefaultLimits()
	}
	return &Codec{version: version, limits: limits}
}

func (c *Codec) Version() Version {
	return c.version
}

func (c *Codec) Limits() Limits {
	return c.limits
}

// Supports reports whether the codec's version defines kind.
func (c *Codec) Supports(kind Kind) bool {
	return c.version.Supports(kind)
}

// Hello returns a Hello stamped with the codec's version.
func (c *Codec) Hello() Hello {
	return Hello{Version: c.version.Number()}
}

// ProjectHello returns a ProjectHello stamped with the codec's version.
func (c *Codec) ProjectHello(projectID int32) ProjectHello {
	return ProjectHello{Version: c.version.Number(), ProjectID: projectID}
}

// ReadMessage reads one tag byte from r and decodes the message behind it.
// Errors reading the tag itself are transport errors and returned unchanged.
func (c *Codec) ReadMessage(r io.Reader) (Message, error) {
	tag, err := ReadTag(r)
	if err != nil {
		return nil, err
	}
	return c.Decode(tag, r)
}

// ReadTag reads exactly one tag byte.
func ReadTag(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// internal/fdm/packet.go
package fdm

import (
	"fmt"
	"strings"
)

// PacketField is one fixed-width field of an outbound request. Content
// shorter than the field length is left-padded with the pad character;
// content longer than the length is a construction error, never a silent
// truncation.
type PacketField struct {
	name    string
	length  int
	content string
}

// NewPacketField creates a field. pad may be empty when the content already
// fills the field exactly.
func NewPacketField(name string, length int, content, pad string) (PacketField, error) {
	if len(content) > length {
		return PacketField{}, fmt.Errorf("%w: field %q content %q exceeds %d", ErrContentTooLong, name, content, length)
	}
	if len(content) < length {
		if pad == "" {
			return PacketField{}, fmt.Errorf("%w: field %q needs %d pad characters", ErrPaddingUnspecified, name, length-len(content))
		}
		content = strings.Repeat(pad, length-len(content)) + content
	}
	return PacketField{name: name, length: length, content: content}, nil
}

// Name returns the diagnostic field name. It is never sent over the wire.
func (f PacketField) Name() string { return f.name }

// Length returns the fixed field width.
func (f PacketField) Length() int { return f.length }

// Content returns the padded wire content.
func (f PacketField) Content() string { return f.content }

// Packet is an ordered, append-only sequence of fields. Field order is
// protocol-significant: serialization concatenates contents in append
// order with no delimiters.
type Packet struct {
	fields []PacketField
}

// NewPacket creates an empty packet.
func NewPacket() *Packet {
	return &Packet{}
}

// Add appends a field to the packet.
func (p *Packet) Add(field PacketField) {
	p.fields = append(p.fields, field)
}

// Serialize concatenates all field contents in append order.
func (p *Packet) Serialize() string {
	var b strings.Builder
	for _, f := range p.fields {
		b.WriteString(f.content)
	}
	return b.String()
}

// Len returns the total serialized length.
func (p *Packet) Len() int {
	total := 0
	for _, f := range p.fields {
		total += f.length
	}
	return total
}

// Describe renders one "name: value" line per field for logging and
// diagnostics only.
func (p *Packet) Describe() string {
	var b strings.Builder
	for _, f := range p.fields {
		fmt.Fprintf(&b, "%s: %s\n", f.name, f.content)
	}
	return b.String()
}

// packetBuilder accumulates fields and remembers the first construction
// error so request builders read as a flat field list.
type packetBuilder struct {
	packet *Packet
	err    error
}

func newPacketBuilder() *packetBuilder {
	return &packetBuilder{packet: NewPacket()}
}

func (b *packetBuilder) add(name string, length int, content, pad string) {
	if b.err != nil {
		return
	}
	field, err := NewPacketField(name, length, content, pad)
	if err != nil {
		b.err = err
		return
	}
	b.packet.Add(field)
}

func (b *packetBuilder) build() (*Packet, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.packet, nil
}

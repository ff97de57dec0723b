package lorawan

// Payload is the interface that every payload needs to implement.
type Payload interface {
	// MarshalBinary encodes the payload in binary (wire) form.
	MarshalBinary() ([]byte, error)
	// UnmarshalBinary decodes the payload from binary form. The uplink
	// flag selects the direction-dependent field views.
	UnmarshalBinary(uplink bool, data []byte) error
}

// DataPayload represents a slice of bytes.
type DataPayload struct {
	Bytes []byte `json:"bytes"`
}

// MarshalBinary marshals the object in binary form.
func (p DataPayload) MarshalBinary() ([]byte, error) {
	return p.Bytes, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *DataPayload) UnmarshalBinary(uplink bool, data []byte) error {
	p.Bytes = make([]byte, len(data))
	copy(p.Bytes, data)
	return nil
}

// ProprietaryPayload carries the opaque body of a Proprietary frame. No MIC
// scheme or structure is defined for it.
type ProprietaryPayload struct {
	Bytes []byte `json:"bytes"`
}

// MarshalBinary marshals the object in binary form.
func (p ProprietaryPayload) MarshalBinary() ([]byte, error) {
	return p.Bytes, nil
}

// UnmarshalBinary decodes the object from binary form.
func (p *ProprietaryPayload) UnmarshalBinary(uplink bool, data []byte) error {
	p.Bytes = make([]byte, len(data))
	copy(p.Bytes, data)
	return nil
}

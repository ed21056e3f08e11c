package peer

import (
	"github.com/pion/sdp/v3"
)

// TransportIdentity returns the ICE ufrag and DTLS fingerprint a description
// advertises, or "" when desc carries neither. A peer that rebuilt its
// transport sends a different identity; a renegotiation on the same
// transport keeps it.
func TransportIdentity(desc string) string {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc); err != nil {
		return ""
	}
	ufrag := attribute(&parsed, "ice-ufrag")
	fingerprint := attribute(&parsed, "fingerprint")
	if ufrag == "" && fingerprint == "" {
		return ""
	}
	return ufrag + " " + fingerprint
}

// attribute looks at session level first, then at the first media section
// that carries key.
func attribute(d *sdp.SessionDescription, key string) string {
	if v, ok := d.Attribute(key); ok {
		return v
	}
	for _, m := range d.MediaDescriptions {
		if v, ok := m.Attribute(key); ok {
			return v
		}
	}
	return ""
}

package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"humed/internal/hume"
)

// encodePacket serializes a packet as a single newline-terminated JSON line.
// Message text passes through untouched; HTML escaping is the receiving
// backend's business.
func encodePacket(pkt *hume.Packet) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(pkt); err != nil {
		return nil, fmt.Errorf("client: encode packet: %w", err)
	}
	return buf.Bytes(), nil
}

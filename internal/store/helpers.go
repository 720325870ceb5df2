package store

import (
	"encoding/json"
	"fmt"

	"github.com/pacific-gateway/tripbot/internal/models"
)

// marshalTicket serializes a priced ticket for the JSON data column.
func marshalTicket(t models.PricedTicket) (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal ticket failed: %w", err)
	}
	return string(b), nil
}

// unmarshalTicket deserializes a priced ticket from its data column.
func unmarshalTicket(data string) (models.PricedTicket, error) {
	var t models.PricedTicket
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return t, fmt.Errorf("unmarshal ticket failed: %w", err)
	}
	return t, nil
}

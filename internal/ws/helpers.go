package ws

import (
	"encoding/json"

	"messenger/internal/models"
)

// encodeFrame marshals an outbound frame. ack is omitted when zero.
func encodeFrame(event string, payload any, ack int64) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(models.Frame{Event: event, Data: data, Ack: ack})
}

func decodeData(frame models.Frame, dst any) error {
	if len(frame.Data) == 0 {
		return nil
	}
	return json.Unmarshal(frame.Data, dst)
}

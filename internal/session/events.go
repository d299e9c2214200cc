package session

import (
	"encoding/json"

	"github.com/google/uuid"
)

// newSessionID generates the session row's primary key.
func newSessionID() string {
	return uuid.NewString()
}

// toEventData round-trips a typed payload through JSON into the
// map[string]interface{} shape bus.NewEvent takes.
func toEventData(payload any) (map[string]interface{}, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

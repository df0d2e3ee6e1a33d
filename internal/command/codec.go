package command

import (
	"encoding/json"
	"fmt"
	"time"
)

type envelope struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

var payloadDecoders = map[string]func(json.RawMessage) (Payload, error){
	TypeGrantCredit:         decodePayload[GrantCredit],
	TypeWithdrawCredit:      decodePayload[WithdrawCredit],
	TypeRequestReversal:     decodePayload[RequestReversal],
	TypeProcessReversal:     decodePayload[ProcessReversal],
	TypeResetAccount:        decodePayload[ResetAccount],
	TypeTriggerMonthlyReset: decodePayload[TriggerMonthlyReset],
}

func decodePayload[T Payload](raw json.RawMessage) (Payload, error) {
	var p T
	if len(raw) == 0 {
		return nil, &ValidationError{Field: "payload", Reason: "is required"}
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return p, nil
}

// Decode parses a JSON command envelope into its typed payload. The
// envelope itself is checked by the bus's validation middleware.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, &ValidationError{Field: "envelope", Reason: err.Error()}
	}
	decode, ok := payloadDecoders[env.Type]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrHandlerNotFound, env.Type)
	}
	payload, err := decode(env.Payload)
	if err != nil {
		return Command{}, err
	}
	return Command{
		ID:        env.ID,
		Type:      env.Type,
		Payload:   payload,
		Metadata:  env.Metadata,
		Timestamp: env.Timestamp,
	}, nil
}

package stage

import (
	"docflow/internal/envelope"
	"docflow/internal/queue"
	"docflow/internal/services"
)

// LoadEnvelope parses the envelope carried by a queue item. On failure it
// returns a services.ErrValidation suitable for stage Execute methods.
func LoadEnvelope(item *queue.Item) (*envelope.Envelope, error) {
	env, err := envelope.Parse(item.EnvelopeJSON)
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse envelope",
			"Message envelope missing or invalid", err)
	}
	return env, nil
}

// StoreEnvelope serializes the envelope back onto the queue item.
func StoreEnvelope(item *queue.Item, env *envelope.Envelope) error {
	encoded, err := env.Encode()
	if err != nil {
		return services.Wrap(
			services.ErrValidation, "stage", "encode envelope",
			"Message envelope could not be serialized", err)
	}
	item.EnvelopeJSON = encoded
	return nil
}

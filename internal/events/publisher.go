// Package events publishes domain events to NATS.
package events

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/wildid/wildid-server/internal/models"
)

// SubjectIdentificationCreated carries an IdentificationEvent.
const SubjectIdentificationCreated = "identifications.created"

// Publisher emits domain events.
type Publisher interface {
	IdentificationCreated(ctx context.Context, ev models.IdentificationEvent) error
}

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	nc Conn
}

func NewNATSPublisher(nc Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

func (p *NATSPublisher) IdentificationCreated(_ context.Context, ev models.IdentificationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "events.IdentificationCreated.Marshal")
	}
	return errors.Wrap(p.nc.Publish(SubjectIdentificationCreated, data), "events.IdentificationCreated.Publish")
}

// NopPublisher discards events. It is used when NATS_URL is empty.
type NopPublisher struct{}

func (NopPublisher) IdentificationCreated(context.Context, models.IdentificationEvent) error {
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildid/wildid-server/internal/models"
)

type fakeConn struct {
	subject string
	data    []byte
	err     error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.subject, f.data = subj, data
	return f.err
}

func TestNATSPublisher_IdentificationCreated(t *testing.T) {
	conn := &fakeConn{}
	ev := models.IdentificationEvent{
		IdentificationID: uuid.New(),
		UserID:           uuid.New(),
		Species:          "Chelonia mydas",
		AnimalType:       "reptile",
		Confidence:       "high",
		CreatedAt:        time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	require.NoError(t, NewNATSPublisher(conn).IdentificationCreated(context.Background(), ev))
	assert.Equal(t, SubjectIdentificationCreated, conn.subject)

	var got models.IdentificationEvent
	require.NoError(t, json.Unmarshal(conn.data, &got))
	assert.Equal(t, ev, got)
}

func TestNATSPublisher_Error(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	err := NewNATSPublisher(conn).IdentificationCreated(context.Background(), models.IdentificationEvent{})
	assert.ErrorContains(t, err, "connection closed")
}

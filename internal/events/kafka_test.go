package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "shipments")

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, p.Publish(context.Background(), Event{
		Type:         TypeShipmentCreated,
		OrderID:      "1001",
		CarrierID:    "steadfast",
		TrackingCode: "SF123",
		Status:       "pending",
		OccurredAt:   at,
	}))

	require.Len(t, fw.last, 1)
	msg := fw.last[0]
	require.Equal(t, "shipments", msg.Topic)
	require.Equal(t, []byte("1001"), msg.Key)
	require.Equal(t, at, msg.Time)

	var got Event
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, TypeShipmentCreated, got.Type)
	require.Equal(t, "SF123", got.TrackingCode)
	require.True(t, at.Equal(got.OccurredAt))
}

func TestProducer_DefaultTopic(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw, "")

	require.NoError(t, p.Publish(context.Background(), Event{OrderID: "1"}))
	require.Equal(t, DefaultTopic, fw.last[0].Topic)
	require.NoError(t, p.Close())
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"}, "t")
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	require.NoError(t, p.Publish(context.Background(), Event{}))
	require.NoError(t, p.Close())
}

type writerMock struct {
	mock.Mock
}

func (m *writerMock) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type ProducerSuite struct {
	suite.Suite
	wm *writerMock
	p  *Producer
}

func (s *ProducerSuite) SetupTest() {
	s.wm = &writerMock{}
	s.p = newProducerWithWriter(s.wm, "t")
}

func (s *ProducerSuite) TestPublish_OK() {
	s.wm.
		On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
			return len(msgs) == 1 && msgs[0].Topic == "t" && string(msgs[0].Key) == "42"
		})).
		Return(nil).
		Once()

	s.Require().NoError(s.p.Publish(context.Background(), Event{OrderID: "42", Type: TypeShipmentStatusChanged}))
	s.wm.AssertExpectations(s.T())
}

func (s *ProducerSuite) TestPublish_ErrorWrapped() {
	s.wm.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("boom")).Once()

	err := s.p.Publish(context.Background(), Event{OrderID: "42"})
	s.Require().Error(err)
	s.Require().Contains(err.Error(), "kafka publish")
	s.wm.AssertExpectations(s.T())
}

func TestProducerSuite(t *testing.T) {
	suite.Run(t, new(ProducerSuite))
}

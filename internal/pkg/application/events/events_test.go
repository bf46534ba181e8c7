package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/diwise/ecotrack/pkg/types"
	"github.com/matryer/is"
)

func TestConfig(t *testing.T) {
	is := is.New(t)
	config := strings.NewReader(`
notifications:
  - id: indicators
    name: Indicator changes
    type: ecotrack.indicator
    subscribers:
    - endpoint: http://api-notification:8990
ingestion:
  interval: 1h
`)
	cfg, err := LoadConfiguration(config)

	is.NoErr(err)
	is.Equal(len(cfg.Notifications), 1)
	is.Equal(cfg.Notifications[0].ID, "indicators")
	is.Equal(cfg.Notifications[0].Subscribers[0].Endpoint, "http://api-notification:8990")
}

func TestTopicAndEventTypeFollowAction(t *testing.T) {
	is := is.New(t)

	evt := IndicatorEvent{Action: IndicatorDeleted}
	is.Equal(evt.TopicName(), "indicator.deleted")
	is.Equal(evt.EventType(), "ecotrack.indicator.deleted")
}

func TestEventsAreDeliveredToMatchingSubscribers(t *testing.T) {
	is := is.New(t)

	received := make(chan map[string]any, 1)
	ceType := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ceType <- r.Header.Get("Ce-Type")

		body := map[string]any{}
		json.NewDecoder(r.Body).Decode(&body)
		received <- body

		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	publisher, err := New(&Config{Notifications: []Notification{
		{Type: "ecotrack.indicator", Subscribers: []SubscriberConfig{{Endpoint: srv.URL}}},
		{Type: "ecotrack.zone", Subscribers: []SubscriberConfig{{Endpoint: "http://127.0.0.1:1"}}},
	}})
	is.NoErr(err)

	evt := IndicatorEvent{
		Action:    IndicatorCreated,
		Indicator: types.Indicator{ID: 7, Type: types.CO2, Value: 12.5},
		Timestamp: time.Now().UTC(),
	}

	is.NoErr(publisher.Publish(context.Background(), evt))

	is.Equal(<-ceType, "ecotrack.indicator.created")
	body := <-received
	is.Equal(body["action"], "created")
}

func TestNoSubscribersIsNoop(t *testing.T) {
	is := is.New(t)

	publisher, err := New(nil)
	is.NoErr(err)
	is.NoErr(publisher.Publish(context.Background(), IndicatorEvent{Action: IndicatorUpdated}))
}

func TestPublishersJoinErrors(t *testing.T) {
	is := is.New(t)

	failing := &PublisherMock{PublishFunc: func(ctx context.Context, evt IndicatorEvent) error {
		return errors.New("boom")
	}}
	ok := &PublisherMock{PublishFunc: func(ctx context.Context, evt IndicatorEvent) error {
		return nil
	}}

	err := Publishers{failing, ok}.Publish(context.Background(), IndicatorEvent{Action: IndicatorCreated})
	is.True(err != nil)
	is.Equal(len(ok.PublishCalls()), 1)
}

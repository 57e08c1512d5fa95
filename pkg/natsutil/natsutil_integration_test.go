//go:build integration

package natsutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

func connectNATS(t *testing.T) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(natsURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() { nc.Close() })
	return nc
}

func TestPubSubRoundTrip(t *testing.T) {
	nc := connectNATS(t)

	type grantDoc struct {
		Title string `json:"title"`
	}

	ch := make(chan grantDoc, 1)
	sub, err := Subscribe(nc, "integ.grants", func(_ context.Context, d grantDoc) {
		ch <- d
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "integ.grants", grantDoc{Title: "EU4Agri call"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		if got.Title != "EU4Agri call" {
			t.Fatalf("got %q", got.Title)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMalformedMessageDropped(t *testing.T) {
	nc := connectNATS(t)

	type typed struct {
		N int `json:"n"`
	}

	ch := make(chan typed, 1)
	sub, err := Subscribe(nc, "integ.malformed", func(_ context.Context, v typed) {
		ch <- v
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	if err := nc.Publish("integ.malformed", []byte("{not json")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case v := <-ch:
		t.Fatalf("handler received malformed payload: %+v", v)
	case <-time.After(500 * time.Millisecond):
	}
}

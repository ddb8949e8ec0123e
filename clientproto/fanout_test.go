package clientproto

import (
	"testing"

	"github.com/gyuho/brokerd/store"
)

func TestFanOutDeliversOnlyToInterestedSubscribers(t *testing.T) {
	f := NewFanOut(nil)

	newsSub := f.Register("sub-news")
	newsSub.addTopic("news")

	allSub := f.Register("sub-all")
	allSub.addTopic("all")

	otherSub := f.Register("sub-sports")
	otherSub.addTopic("sports")

	f.NotifyPublish(store.Record{Topic: "news", Format: "RAW", Body: "hello"})

	select {
	case got := <-newsSub.outc:
		if got.Body != "hello" {
			t.Fatalf("unexpected body %q", got.Body)
		}
	default:
		t.Fatal("expected news subscriber to receive frame")
	}

	select {
	case got := <-allSub.outc:
		if got.Body != "hello" {
			t.Fatalf("unexpected body %q", got.Body)
		}
	default:
		t.Fatal("expected all-wildcard subscriber to receive frame")
	}

	select {
	case <-otherSub.outc:
		t.Fatal("sports subscriber should not receive a news frame")
	default:
	}
}

func TestFanOutDetachesOnBufferOverflow(t *testing.T) {
	var detached []string
	f := NewFanOut(func(id string) { detached = append(detached, id) })

	sub := f.Register("slow-sub")
	sub.addTopic("news")

	for i := 0; i < outboundBufferSize+1; i++ {
		f.NotifyPublish(store.Record{Topic: "news", Format: "RAW", Body: "x"})
	}

	if len(detached) == 0 {
		t.Fatalf("expected detach to be called after buffer overflow")
	}
}

func TestNotifySubscribeAndUnsubscribeUpdateLocalTopics(t *testing.T) {
	f := NewFanOut(nil)
	sub := f.Register("sub1")

	f.NotifySubscribe("sub1", "weather")
	if !sub.interested("weather") {
		t.Fatalf("expected subscriber to be interested in weather after NotifySubscribe")
	}

	f.NotifyUnsubscribe("sub1", "weather")
	if sub.interested("weather") {
		t.Fatalf("expected subscriber to lose interest in weather after NotifyUnsubscribe")
	}
}

func TestNotifyOnUnknownSubscriberIsNoop(t *testing.T) {
	f := NewFanOut(nil)
	f.NotifySubscribe("ghost", "news")
	f.NotifyUnsubscribe("ghost", "news")
}

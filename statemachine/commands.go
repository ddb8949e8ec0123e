package statemachine

import (
	"bytes"
	"encoding/gob"
	"time"
)

// PublishCommand is the EntryPublish payload.
type PublishCommand struct {
	Topic     string
	Format    string
	Body      string
	Timestamp time.Time
}

// SubscribeCommand is the EntrySubscribe payload.
type SubscribeCommand struct {
	SubscriberID string
	NodeID       uint64
	Topic        string
}

// UnsubscribeCommand is the EntryUnsubscribe payload.
type UnsubscribeCommand struct {
	SubscriberID string
	Topic        string
}

// EncodePublish/EncodeSubscribe/EncodeUnsubscribe are used by the
// client protocol layer to build an Entry.Payload before calling
// raft.Node.Propose; Decode* are used here on apply.

func EncodePublish(c PublishCommand) ([]byte, error)     { return encodeGob(c) }
func EncodeSubscribe(c SubscribeCommand) ([]byte, error) { return encodeGob(c) }
func EncodeUnsubscribe(c UnsubscribeCommand) ([]byte, error) {
	return encodeGob(c)
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

type fakePublisher struct {
	msgs []*gcppubsub.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return fakeResult{err: f.err}
}

type fakeResult struct{ err error }

func (r fakeResult) Get(context.Context) (string, error) {
	return "server-id", r.err
}

func TestPubSubQueuePublishesTaskWithAttributes(t *testing.T) {
	pub := &fakePublisher{}
	q := &PubSubQueue{pub: pub}
	task, _ := New(enums.TaskCacheEvict, map[string]any{"tags": []string{"carts"}})

	if err := q.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Attributes[AttrTaskType] != "cache.evict" || msg.Attributes[AttrTaskID] != task.ID.String() {
		t.Fatalf("unexpected attributes %v", msg.Attributes)
	}
	var decoded Task
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != task.ID || decoded.Type != task.Type {
		t.Fatalf("unexpected decoded task %+v", decoded)
	}
}

func TestPubSubQueueSurfacesPublishErrors(t *testing.T) {
	q := &PubSubQueue{pub: &fakePublisher{err: errors.New("unavailable")}}
	task, _ := New(enums.TaskCacheEvict, nil)
	if err := q.Enqueue(context.Background(), task); err == nil {
		t.Fatal("expected publish error")
	}
}

func TestNewPubSubQueueRequiresPublisher(t *testing.T) {
	if _, err := NewPubSubQueue(nil, nil); err == nil {
		t.Fatal("expected error for nil publisher")
	}
}

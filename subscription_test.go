package hypo

import (
	"sync"
	"testing"
)

func message(ct ContentType) *Message {
	return &Message{Payload: &ClipboardPayload{ContentType: ct}}
}

func TestSubscriptionManager_Filter(t *testing.T) {
	m := newSubscriptionManager()

	var all, images int
	m.subscribe("", func(*Message) { all++ })
	m.subscribe(ContentImage, func(*Message) { images++ })

	if n := m.notify(message(ContentText)); n != 1 {
		t.Errorf("notify(text) called %d callbacks, want 1", n)
	}
	if n := m.notify(message(ContentImage)); n != 2 {
		t.Errorf("notify(image) called %d callbacks, want 2", n)
	}
	if all != 2 || images != 1 {
		t.Errorf("all = %d, images = %d, want 2 and 1", all, images)
	}
}

func TestSubscriptionManager_Unsubscribe(t *testing.T) {
	m := newSubscriptionManager()

	called := 0
	unsubscribe := m.subscribe("", func(*Message) { called++ })
	m.notify(message(ContentText))

	unsubscribe()
	unsubscribe()
	m.notify(message(ContentText))

	if called != 1 {
		t.Errorf("called = %d, want 1", called)
	}
	if n := m.len(); n != 0 {
		t.Errorf("len() = %d, want 0", n)
	}
}

func TestSubscriptionManager_Clear(t *testing.T) {
	m := newSubscriptionManager()
	m.subscribe("", func(*Message) { t.Error("callback after clear") })
	m.subscribe(ContentLink, func(*Message) { t.Error("callback after clear") })

	m.clear()
	if n := m.notify(message(ContentLink)); n != 0 {
		t.Errorf("notify() after clear called %d callbacks", n)
	}
}

func TestSubscriptionManager_Concurrent(t *testing.T) {
	m := newSubscriptionManager()
	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsubscribe := m.subscribe("", func(*Message) {})
			m.notify(message(ContentText))
			unsubscribe()
		}()
	}
	wg.Wait()
	if n := m.len(); n != 0 {
		t.Errorf("len() = %d, want 0", n)
	}
}

package broker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedMessage struct {
	Topic string
	Msg   any
}

type fakeTransport struct {
	mu       sync.Mutex
	messages []recordedMessage
	fail     bool
}

func (f *fakeTransport) Deliver(topic string, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("transport down")
	}
	f.messages = append(f.messages, recordedMessage{Topic: topic, Msg: msg})
	return nil
}

func (f *fakeTransport) recorded() []recordedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

func TestPublishFansOutToAllSessions(t *testing.T) {
	b := New(time.Millisecond)
	primary := &fakeTransport{}
	secondary := &fakeTransport{}

	b.Attach("kate", primary, nil)
	b.Attach("kate", secondary, nil)

	b.Publish("kate", TopicVoice, "hello")

	for _, tr := range []*fakeTransport{primary, secondary} {
		msgs := tr.recorded()
		if len(msgs) != 1 {
			t.Fatalf("Expected 1 message, got %d", len(msgs))
		}
		if msgs[0].Topic != TopicVoice || msgs[0].Msg != "hello" {
			t.Errorf("Expected hello on voice topic, got %+v", msgs[0])
		}
	}
}

func TestReattachDemotesPrimary(t *testing.T) {
	b := New(time.Millisecond)
	b.Attach("kate", &fakeTransport{}, nil)
	b.Attach("kate", &fakeTransport{}, nil)

	if n := b.SessionCount("kate"); n != 2 {
		t.Errorf("Expected 2 sessions after re-attach, got %d", n)
	}
}

func TestDetachPromotesSecondary(t *testing.T) {
	b := New(time.Millisecond)
	first := b.Attach("kate", &fakeTransport{}, nil)
	survivor := &fakeTransport{}
	b.Attach("kate", survivor, nil)

	// Detach the current primary (second attach); the demoted first
	// session is promoted back.
	b.Detach("kate", first.ID)

	if n := b.SessionCount("kate"); n != 1 {
		t.Fatalf("Expected 1 session, got %d", n)
	}
	b.Publish("kate", TopicVoice, "still here")
	if len(survivor.recorded()) != 1 {
		t.Errorf("Expected surviving session to receive the message")
	}
}

func TestPublishUnknownIdentityIsNoop(t *testing.T) {
	b := New(time.Millisecond)
	// Must not panic or error.
	b.Publish("ghost", TopicVoice, "anyone?")
}

func TestPublishSurvivesFailingTransport(t *testing.T) {
	b := New(time.Millisecond)
	broken := &fakeTransport{fail: true}
	healthy := &fakeTransport{}
	b.Attach("kate", broken, nil)
	b.Attach("kate", healthy, nil)

	b.Publish("kate", TopicVoice, "msg")

	if len(healthy.recorded()) != 1 {
		t.Errorf("Expected healthy session to receive the message despite broken peer")
	}
}

func TestBringupSequence(t *testing.T) {
	b := New(5 * time.Millisecond)
	tr := &fakeTransport{}

	b.Attach("kate", tr, &Bringup{
		User:          map[string]string{"userName": "kate"},
		Configuration: map[string]string{"env": "sim"},
		InitialState: func() (any, any) {
			return "dn-state", "media-state"
		},
	})

	// Handshake is synchronous.
	msgs := tr.recorded()
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 handshake messages, got %d", len(msgs))
	}
	first, ok := msgs[0].Msg.(*initializationProgress)
	if !ok || first.Progress == nil || first.Progress.PercentComplete != 50 {
		t.Errorf("Expected progress(50) first, got %+v", msgs[0].Msg)
	}
	second, ok := msgs[1].Msg.(*initializationProgress)
	if !ok || second.Progress == nil || second.Progress.PercentComplete != 100 || second.Data == nil {
		t.Errorf("Expected progress(100) with payload second, got %+v", msgs[1].Msg)
	}
	third, ok := msgs[2].Msg.(*initializationProgress)
	if !ok || third.MessageType != "WorkspaceInitializationComplete" || third.Data == nil {
		t.Errorf("Expected completion with payload third, got %+v", msgs[2].Msg)
	}

	// Initial-state messages arrive after the bring-up delay, in order.
	deadline := time.Now().Add(time.Second)
	for len(tr.recorded()) < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	msgs = tr.recorded()
	if len(msgs) != 5 {
		t.Fatalf("Expected 5 messages after bring-up delay, got %d", len(msgs))
	}
	if msgs[3].Topic != TopicVoice {
		t.Errorf("Expected initial DN state on voice topic, got %s", msgs[3].Topic)
	}
	if msgs[4].Topic != TopicMedia {
		t.Errorf("Expected initial media state on media topic, got %s", msgs[4].Topic)
	}
}

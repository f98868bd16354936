package notify

import (
	"testing"
)

func TestHubFanout(t *testing.T) {
	hub := NewHub()
	all := hub.Subscribe("", 4)
	typed := hub.Subscribe(EventCompetitionCreated, 4)
	other := hub.Subscribe(EventBetPlaced, 4)

	hub.Publish(Event{Type: EventCompetitionCreated, CompetitionID: "comp-1"})

	for name, ch := range map[string]<-chan Event{"all": all, "typed": typed} {
		select {
		case ev := <-ch:
			if ev.Type != EventCompetitionCreated || ev.CompetitionID != "comp-1" {
				t.Fatalf("%s got=%+v", name, ev)
			}
			if ev.At.IsZero() {
				t.Fatalf("%s timestamp not filled", name)
			}
		default:
			t.Fatalf("%s received nothing", name)
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("unrelated subscriber got=%+v", ev)
	default:
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe("", 1)

	hub.Publish(Event{Type: EventBetPlaced})
	hub.Publish(Event{Type: EventBetPlaced})

	if got := hub.Dropped(); got != 1 {
		t.Fatalf("dropped=%d want=1", got)
	}
	// the first event is still deliverable
	select {
	case <-slow:
	default:
		t.Fatalf("buffered event lost")
	}
}

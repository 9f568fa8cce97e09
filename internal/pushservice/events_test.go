package pushservice

import "testing"

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Event
	}{
		{
			"snake case click url",
			`{"title":"T","body":"B","icon":"I","data":{"created_at":"2025-09-14T02:59:53Z","on_click":"https://a"}}`,
			Event{Title: "T", Body: "B", Icon: "I", CreatedAt: "2025-09-14T02:59:53Z", OnClickURL: "https://a"},
		},
		{
			"camel case fallback",
			`{"title":"T","data":{"onClick":"https://b"}}`,
			Event{Title: "T", OnClickURL: "https://b"},
		},
		{
			"snake case wins",
			`{"data":{"on_click":"https://a","onClick":"https://b"}}`,
			Event{OnClickURL: "https://a"},
		},
		{"missing fields", `{}`, Event{}},
		{"non-string data fields", `{"title":"T","data":{"created_at":123}}`, Event{Title: "T"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeEventInvalid(t *testing.T) {
	for _, in := range []string{"", "not json", `{"title":1}`} {
		if _, err := decodeEvent(in); err == nil {
			t.Errorf("decodeEvent(%q): expected error", in)
		}
	}
}

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)
	a, cancelA := bus.Subscribe(1)
	b, cancelB := bus.Subscribe(1)
	defer cancelB()

	if n := bus.Publish(Event{Title: "one"}); n != 2 {
		t.Fatalf("delivered to %d, want 2", n)
	}
	if ev := <-a; ev.Title != "one" {
		t.Fatalf("a got %+v", ev)
	}

	// b's buffer is still full; the event is dropped for b only.
	if n := bus.Publish(Event{Title: "two"}); n != 1 {
		t.Fatalf("delivered to %d, want 1", n)
	}
	if ev := <-b; ev.Title != "one" {
		t.Fatalf("b got %+v", ev)
	}

	cancelA()
	cancelA()
	if ev := <-a; ev.Title != "two" {
		t.Fatalf("a got %+v, want buffered event", ev)
	}
	if _, ok := <-a; ok {
		t.Fatal("channel not closed after cancel")
	}
	if n := bus.Publish(Event{Title: "three"}); n != 1 {
		t.Fatalf("delivered to %d after cancel, want 1", n)
	}
}

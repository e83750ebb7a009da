package mqtt

import "testing"

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"system status", topics.SystemStatus(), "tilecore/status"},
		{"tracker state", topics.TrackerState("home", "ab12cd34"), "tilecore/tracker/home/ab12cd34/state"},
		{"tracker availability", topics.TrackerAvailability("home", "ab12cd34"), "tilecore/tracker/home/ab12cd34/availability"},
		{"all tracker states", topics.AllTrackerStates(), "tilecore/tracker/+/+/state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublish_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Publish("", []byte("x"), 1, false); err != ErrInvalidTopic {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Publish("tilecore/status", []byte("x"), 3, false); err != ErrInvalidQoS {
		t.Errorf("qos 3: err = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := &Client{subscriptions: make(map[string]subscription)}

	if err := c.Subscribe("", 1, func(string, []byte) error { return nil }); err != ErrInvalidTopic {
		t.Errorf("empty topic: err = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("tilecore/status", 3, func(string, []byte) error { return nil }); err != ErrInvalidQoS {
		t.Errorf("qos 3: err = %v, want ErrInvalidQoS", err)
	}
}

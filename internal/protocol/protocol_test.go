package protocol

import (
	"encoding/json"
	"regexp"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	msg, err := Parse([]byte(`{"event":"pusher:subscribe","data":{"channel":"room"}}`))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if msg.Event != EventSubscribe {
		t.Errorf("event = %q, want pusher:subscribe", msg.Event)
	}

	if _, err := Parse([]byte(`{"data":{}}`)); err == nil {
		t.Error("Parse() must reject a message without an event")
	}
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("Parse() must reject malformed JSON")
	}
}

func TestDataString(t *testing.T) {
	t.Parallel()

	// A JSON-string data field is unwrapped once.
	msg, _ := Parse([]byte(`{"event":"e","data":"{\"user_id\":\"7\"}"}`))
	if got := msg.DataString(); got != `{"user_id":"7"}` {
		t.Errorf("DataString() = %q", got)
	}

	// An object data field passes through verbatim.
	msg, _ = Parse([]byte(`{"event":"e","data":{"user_id":"7"}}`))
	if got := msg.DataString(); got != `{"user_id":"7"}` {
		t.Errorf("DataString() = %q", got)
	}
}

func TestConnectionEstablishedDoubleEncodes(t *testing.T) {
	t.Parallel()

	raw, err := NewConnectionEstablished("123.456", 30)
	if err != nil {
		t.Fatalf("NewConnectionEstablished() error: %v", err)
	}

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if msg.Event != EventConnectionEstablished {
		t.Errorf("event = %q", msg.Event)
	}

	// data must be a JSON string containing JSON.
	var inner string
	if err := json.Unmarshal(msg.Data, &inner); err != nil {
		t.Fatalf("data is not a JSON string: %v", err)
	}
	var payload struct {
		SocketID        string `json:"socket_id"`
		ActivityTimeout int    `json:"activity_timeout"`
	}
	if err := json.Unmarshal([]byte(inner), &payload); err != nil {
		t.Fatalf("inner data is not JSON: %v", err)
	}
	if payload.SocketID != "123.456" || payload.ActivityTimeout != 30 {
		t.Errorf("payload = %+v", payload)
	}
}

func TestErrorFrameIsPlainObject(t *testing.T) {
	t.Parallel()

	raw, err := NewError(CodePongTimeout, "pong reply not received in time")
	if err != nil {
		t.Fatalf("NewError() error: %v", err)
	}

	msg, _ := Parse(raw)
	var data struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("error data must be a plain object: %v", err)
	}
	if data.Code != 4201 {
		t.Errorf("code = %d, want 4201", data.Code)
	}
}

func TestSocketIDFormat(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^\d+\.\d+$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewSocketID()
		if !pattern.MatchString(id) {
			t.Fatalf("socket id %q does not match %s", id, pattern)
		}
		if seen[id] {
			t.Fatalf("socket id %q repeated", id)
		}
		seen[id] = true
	}
}

func TestValidChannelName(t *testing.T) {
	t.Parallel()

	valid := []string{"room", "private-room", "presence-a_b=c@d,e.f;g", "cache-1"}
	for _, name := range valid {
		if !ValidChannelName(name) {
			t.Errorf("ValidChannelName(%q) = false, want true", name)
		}
	}

	invalid := []string{"", "has space", "bang!", "slash/name"}
	for _, name := range invalid {
		if ValidChannelName(name) {
			t.Errorf("ValidChannelName(%q) = true, want false", name)
		}
	}

	long := make([]byte, 201)
	for i := range long {
		long[i] = 'a'
	}
	if ValidChannelName(string(long)) {
		t.Error("names over 200 characters must be rejected")
	}
}

func TestValidClientEvent(t *testing.T) {
	t.Parallel()

	if !ValidClientEvent("client-typing") {
		t.Error("client-typing must be valid")
	}
	if ValidClientEvent("pusher:ping") {
		t.Error("control events are not client events")
	}
	if ValidClientEvent("client-bad event") {
		t.Error("whitespace must be rejected")
	}
}

func TestCodeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{ErrOverQuota, CodeOverQuota},
		{ErrOriginNotAllowed, CodeUnauthorized},
		{ErrUnauthorized, CodeUnauthorized},
		{ErrPongTimeout, CodePongTimeout},
		{ErrMessageTooLarge, CodeMessageTooLarge},
		{ErrShuttingDown, CodeGenericError},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.err); got != tt.want {
			t.Errorf("CodeFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

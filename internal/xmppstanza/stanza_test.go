package xmppstanza

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestEncodeMessageTrimsBodyPreservesNewlines(t *testing.T) {
	m := EncodeMessage("alice@example.com", "  hello\nworld  ", "chat")
	if m.Body != "hello\nworld" {
		t.Fatalf("got body %q", m.Body)
	}
	if m.ID == "" {
		t.Fatal("expected a non-empty generated id")
	}
}

func TestNewMessageIDUnique(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	if a == b {
		t.Fatal("expected distinct message ids")
	}
}

func TestEncodeMUCJoinNamespace(t *testing.T) {
	out, err := xml.Marshal(EncodeMUCJoin("room@conference.example.com/nick"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(out), NSMUC) {
		t.Fatalf("expected muc namespace in output, got %s", out)
	}
}

func TestEncodeMUCConfigSubmitID(t *testing.T) {
	out, err := xml.Marshal(EncodeMUCConfigSubmit("room@conference.example.com", "123"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(out), `id="cfg-123"`) {
		t.Fatalf("expected cfg-123 id in output, got %s", out)
	}
	if !strings.Contains(string(out), NSMUCOwner) {
		t.Fatalf("expected muc#owner namespace, got %s", out)
	}
}

func TestHasBody(t *testing.T) {
	if (Message{Body: "  "}).HasBody() {
		t.Fatal("whitespace-only body should not count as having a body")
	}
	if !(Message{Body: "hi"}).HasBody() {
		t.Fatal("non-empty body should count as having a body")
	}
}

func decodeIQStart(t *testing.T, body string) (*xml.Decoder, xml.StartElement) {
	t.Helper()
	d := xml.NewDecoder(strings.NewReader(body))
	for {
		tok, err := d.Token()
		if err != nil {
			t.Fatalf("unexpected decode error: %v", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return d, start
		}
	}
}

func TestIsRosterPushDetectsQuery(t *testing.T) {
	body := `<iq from="server" type="set" id="push1"><query xmlns="jabber:iq:roster"><item jid="a@b.com"/></query></iq>`
	d, start := decodeIQStart(t, body)
	id, isPush, err := IsRosterPush(d, start)
	if err != nil {
		t.Fatalf("IsRosterPush: %v", err)
	}
	if !isPush {
		t.Fatal("expected roster push to be detected")
	}
	if id != "push1" {
		t.Fatalf("expected id push1, got %q", id)
	}
}

func TestIsRosterPushIgnoresOtherIQs(t *testing.T) {
	body := `<iq from="server" type="get" id="disco1"><query xmlns="http://jabber.org/protocol/disco#info"/></iq>`
	d, start := decodeIQStart(t, body)
	_, isPush, err := IsRosterPush(d, start)
	if err != nil {
		t.Fatalf("IsRosterPush: %v", err)
	}
	if isPush {
		t.Fatal("expected a disco query to not be treated as a roster push")
	}
}

func TestEncodeIQResultType(t *testing.T) {
	out, err := xml.Marshal(EncodeIQResult("user@example.com", "push1"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(out), `type="result"`) || !strings.Contains(string(out), `id="push1"`) {
		t.Fatalf("expected result type and matching id, got %s", out)
	}
}

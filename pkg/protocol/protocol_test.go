package protocol

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/randchat/pkg/model"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestDecodeEvents(t *testing.T) {
	img := "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)

	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{"match", `{"type":"match","matched_user":"bob"}`, MatchEvent{MatchedUser: "bob"}},
		{"message", `{"type":"message","username":"bob","message":"hi"}`, MessageEvent{Username: "bob", Message: "hi"}},
		{"message with image", `{"type":"message","username":"bob","message":"","image":"` + img + `"}`,
			MessageEvent{Username: "bob", Image: img}},
		{"message with bogus image keeps text", `{"type":"message","username":"bob","message":"hi","image":"javascript:alert(1)"}`,
			MessageEvent{Username: "bob", Message: "hi"}},
		{"disconnect", `{"type":"disconnect","message":"bob has disconnected."}`, DisconnectEvent{Message: "bob has disconnected."}},
		{"skip", `{"type":"skip","message":"bob left"}`, SkipEvent{Message: "bob left"}},
		{"search", `{"type":"search","message":"Searching..."}`, SearchEvent{Message: "Searching..."}},
		{"success", `{"type":"success","message":"ok"}`, SuccessEvent{Message: "ok"}},
		{"error", `{"type":"error","message":"Username already exists"}`, ErrorEvent{Message: "Username already exists"}},
		{"error with legacy field", `{"type":"error","error":"nope"}`, ErrorEvent{Message: "nope"}},
		{"interest changed", `{"type":"interest_changed","message":"Interest set to Music"}`, InterestChangedEvent{Message: "Interest set to Music"}},
		{"untyped registration ack", `{"message":"User registered successfully","username":"alice"}`,
			SuccessEvent{Message: "User registered successfully", Username: "alice"}},
		{"untyped error", `{"error":"Username already exists"}`, ErrorEvent{Message: "Username already exists"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode: unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"unknown type", `{"type":"ping"}`, ErrUnknownType},
		{"not json", `hello`, ErrMalformed},
		{"type not a string", `{"type":5}`, ErrMalformed},
		{"match without user", `{"type":"match"}`, ErrMissingField},
		{"match with blank user", `{"type":"match","matched_user":"  "}`, ErrMissingField},
		{"message without author", `{"type":"message","message":"hi"}`, ErrMissingField},
		{"message without body", `{"type":"message","username":"bob"}`, ErrMissingField},
		{"message with blank body", `{"type":"message","username":"bob","message":"  "}`, ErrMissingField},
		{"message with only a bogus image", `{"type":"message","username":"bob","image":"not-an-image"}`, ErrMissingField},
		{"message with empty text and bogus image", `{"type":"message","username":"bob","message":"","image":"data:text/plain;base64,aGk="}`, ErrMissingField},
		{"untyped empty object", `{}`, ErrMissingField},
		{"too large", `{"type":"skip","message":"` + strings.Repeat("a", MaxFrameSize) + `"}`, ErrFrameTooBig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatalf("Decode: expected error, got event %#v", ev)
			}
			var derr *DecodingError
			if !errors.As(err, &derr) {
				t.Fatalf("Decode: expected *DecodingError, got %T", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeUnknownTypeKeepsTag(t *testing.T) {
	_, err := Decode([]byte(`{"type":"typing","username":"bob"}`))
	var derr *DecodingError
	if !errors.As(err, &derr) {
		t.Fatalf("expected *DecodingError, got %v", err)
	}
	if derr.Type != "typing" {
		t.Errorf("Type = %q, want typing", derr.Type)
	}
}

func TestEncodeCommands(t *testing.T) {
	bob := &model.Partner{DisplayName: "bob"}
	msg, err := NewSendMessage(bob, "hi", "")
	if err != nil {
		t.Fatalf("NewSendMessage: %v", err)
	}

	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"register", Register{Username: "alice", Interest: model.InterestTechnology},
			`{"interest":"Technology","type":"register","username":"alice"}`},
		{"message", msg, `{"message":"hi","type":"message"}`},
		{"skip", Skip{Username: "alice"}, `{"type":"skip","username":"alice"}`},
		{"search", Search{}, `{"type":"search"}`},
		{"find new user", Search{As: CommandFindNewUser}, `{"type":"find_new_user"}`},
		{"change interest", ChangeInterest{NewInterest: model.InterestMusic},
			`{"new_interest":"Music","type":"change_interest"}`},
		{"logout", Logout{}, `{"type":"logout"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.cmd)
			if err != nil {
				t.Fatalf("Encode: unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Encode = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		cmd     Command
		wantErr error
	}{
		{"message built without partner", SendMessage{Message: "hi"}, ErrNoPartner},
		{"register bad username", Register{Username: "bob!", Interest: model.InterestAny}, model.ErrUsernameInvalidChars},
		{"register bad interest", Register{Username: "bob", Interest: "Cooking"}, model.ErrUnknownInterest},
		{"skip without username", Skip{}, ErrMissingField},
		{"change to unknown interest", ChangeInterest{NewInterest: "Cooking"}, model.ErrUnknownInterest},
		{"nil command", nil, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.cmd)
			var eerr *EncodingError
			if !errors.As(err, &eerr) {
				t.Fatalf("Encode: expected *EncodingError, got %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Encode err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSendMessage(t *testing.T) {
	if _, err := NewSendMessage(nil, "hello", ""); !errors.Is(err, ErrNoPartner) {
		t.Errorf("no partner: err = %v, want ErrNoPartner", err)
	}
	bob := &model.Partner{DisplayName: "bob"}
	if _, err := NewSendMessage(bob, "   ", ""); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("blank body: err = %v, want ErrEmptyBody", err)
	}
	m, err := NewSendMessage(bob, "", "data:image/png;base64,AAAA")
	if err != nil {
		t.Fatalf("image only: unexpected error: %v", err)
	}
	if m.Partner() != "bob" {
		t.Errorf("Partner() = %q, want bob", m.Partner())
	}
}

func TestImageRoundTrip(t *testing.T) {
	url, err := EncodeImage(pngHeader)
	if err != nil {
		t.Fatalf("EncodeImage: %v", err)
	}
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("unexpected data URL prefix: %s", url[:30])
	}
	data, mt, err := DecodeImage(url)
	if err != nil {
		t.Fatalf("DecodeImage: %v", err)
	}
	if mt != "image/png" {
		t.Errorf("media type = %q, want image/png", mt)
	}
	if diff := cmp.Diff(pngHeader, data); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeImageRejectsText(t *testing.T) {
	if _, err := EncodeImage([]byte("just some text, not a picture")); !errors.Is(err, ErrNotAnImage) {
		t.Errorf("err = %v, want ErrNotAnImage", err)
	}
	if _, err := EncodeImage(nil); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("err = %v, want ErrEmptyBody", err)
	}
}

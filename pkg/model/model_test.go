package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "bob_01", nil},
		{"valid with underscore", "my_user", nil},
		{"valid mixed case", "A_b3", nil},
		{"empty", "", ErrUsernameEmpty},
		{"bang", "bob!", ErrUsernameInvalidChars},
		{"hyphen", "my-user", ErrUsernameInvalidChars},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains dot", "user.name", ErrUsernameInvalidChars},
		{"unicode letter", "ñoño", ErrUsernameInvalidChars},
		{"trailing newline", "user\n", ErrUsernameInvalidChars},
		{"long", strings.Repeat("a", 200), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateUsername(%q) = %v, want nil", tt.input, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ValidateUsername(%q): expected *ValidationError, got %T", tt.input, err)
			}
			if verr.Remote {
				t.Errorf("local validation must not be marked remote")
			}
		})
	}
}

func TestParseInterest(t *testing.T) {
	tests := []struct {
		input   string
		want    Interest
		wantErr bool
	}{
		{"", InterestAny, false},
		{"Any", InterestAny, false},
		{"technology", InterestTechnology, false},
		{" MUSIC ", InterestMusic, false},
		{"Travel", InterestTravel, false},
		{"Cooking", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterest(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownInterest) {
					t.Fatalf("ParseInterest(%q) err = %v, want ErrUnknownInterest", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInterest(%q): unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseInterest(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInterestValid(t *testing.T) {
	for _, in := range Interests() {
		if !in.Valid() {
			t.Errorf("%q should be valid", in)
		}
	}
	if Interest("Cooking").Valid() {
		t.Errorf("Cooking should not be valid")
	}
	if len(Interests()) != 6 {
		t.Errorf("expected 6 interests, got %d", len(Interests()))
	}
}

func TestMessageEmpty(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"text", Message{Author: "a", Text: "hi", ReceivedAt: now}, false},
		{"whitespace", Message{Author: "a", Text: "  \t"}, true},
		{"image only", Message{Author: "a", Image: "data:image/png;base64,AAAA"}, false},
		{"nothing", Message{Author: "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Empty(); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}

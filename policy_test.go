package authcore

import (
	"strings"
	"testing"
)

func TestCheckPassword(t *testing.T) {
	e := &Engine{config: testConfig()}

	cases := []struct {
		pw   string
		want bool
	}{
		{"P@ssw0rd1", true},
		{"abcdefg1", true},
		{"ünïcödé1", true},
		{"abc1", false},
		{"abcdefgh", false},
		{"12345678", false},
		{strings.Repeat("a", 71) + "1", true},
		{strings.Repeat("a", 72) + "1", false},
	}
	for _, tc := range cases {
		if got := e.checkPassword(tc.pw) == ""; got != tc.want {
			t.Errorf("checkPassword(%q) ok=%v, want %v", tc.pw, got, tc.want)
		}
	}
}

func TestValidateLoginDoesNotApplyPolicy(t *testing.T) {
	if _, err := validateLogin(LoginRequest{Email: "a@example.com", Password: "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := validateLogin(LoginRequest{Email: "a@example.com"})
	requireKind(t, err, KindValidation)
}

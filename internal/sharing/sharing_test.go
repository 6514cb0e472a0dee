package sharing

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueRedeemRoundTrip(t *testing.T) {
	i := NewIssuer("test-secret", time.Hour)

	token, expires, err := i.Issue(42, "bot.py")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if until := time.Until(expires); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiry %s not ~1h out", expires)
	}

	claims, err := i.Redeem(token)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if claims.OwnerID != 42 || claims.Filename != "bot.py" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestRedeemExpired(t *testing.T) {
	i := NewIssuer("test-secret", time.Hour)

	token, _, err := i.Issue(1, "bot.py")
	if err != nil {
		t.Fatal(err)
	}

	// Verify against a clock two hours past issuance.
	i.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := i.Redeem(token); !errors.Is(err, ErrLinkExpired) {
		t.Errorf("Redeem = %v, want ErrLinkExpired", err)
	}
}

func TestRedeemTampered(t *testing.T) {
	i := NewIssuer("test-secret", time.Hour)

	token, _, err := i.Issue(1, "bot.py")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(token, ".")
	parts[2] = strings.Repeat("A", len(parts[2]))
	if _, err := i.Redeem(strings.Join(parts, ".")); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("Redeem tampered = %v, want ErrLinkInvalid", err)
	}
}

func TestRedeemWrongSecret(t *testing.T) {
	token, _, err := NewIssuer("secret-a", time.Hour).Issue(1, "bot.py")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewIssuer("secret-b", time.Hour).Redeem(token); !errors.Is(err, ErrLinkInvalid) {
		t.Errorf("Redeem = %v, want ErrLinkInvalid", err)
	}
}

func TestRedeemGarbage(t *testing.T) {
	i := NewIssuer("test-secret", time.Hour)
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := i.Redeem(token); !errors.Is(err, ErrLinkInvalid) {
			t.Errorf("Redeem(%q) = %v, want ErrLinkInvalid", token, err)
		}
	}
}

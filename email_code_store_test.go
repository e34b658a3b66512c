package authflow

import (
	"context"
	"testing"
	"time"
)

func newTestCodeStore(t *testing.T) (*emailCodeStore, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	store := newEmailCodeStore(TwoFactorConfig{
		EmailCodeDigits: 6,
		EmailCodeTTL:    time.Minute,
		RedisPrefix:     "af2e",
	}, rdb)
	return store, mr.Close
}

func TestEmailCodeIssueAndVerify(t *testing.T) {
	store, done := newTestCodeStore(t)
	defer done()

	code, err := store.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected six digits, got %q", code)
	}

	ok, err := store.Verify(context.Background(), "u1", code)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Fatal("expected match")
	}
}

func TestEmailCodeSingleUse(t *testing.T) {
	store, done := newTestCodeStore(t)
	defer done()

	code, err := store.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if ok, _ := store.Verify(context.Background(), "u1", code); !ok {
		t.Fatal("first redemption must succeed")
	}
	if ok, _ := store.Verify(context.Background(), "u1", code); ok {
		t.Fatal("second redemption must fail")
	}
}

func TestEmailCodeWrongCodeLeavesStoredCode(t *testing.T) {
	store, done := newTestCodeStore(t)
	defer done()

	code, err := store.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if ok, _ := store.Verify(context.Background(), "u1", "999999x"); ok {
		t.Fatal("wrong code must not match")
	}
	if ok, _ := store.Verify(context.Background(), "u1", code); !ok {
		t.Fatal("stored code must survive a failed guess")
	}
}

func TestEmailCodeReissueReplaces(t *testing.T) {
	store, done := newTestCodeStore(t)
	defer done()

	first, err := store.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	second, err := store.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if first != second {
		if ok, _ := store.Verify(context.Background(), "u1", first); ok {
			t.Fatal("replaced code must no longer redeem")
		}
	}
	if ok, _ := store.Verify(context.Background(), "u1", second); !ok {
		t.Fatal("latest code must redeem")
	}
}

func TestEmailCodeScopedToPrincipal(t *testing.T) {
	store, done := newTestCodeStore(t)
	defer done()

	code, err := store.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if ok, _ := store.Verify(context.Background(), "u2", code); ok {
		t.Fatal("codes are scoped to the issuing principal")
	}
}

func TestEmailCodeExpires(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newEmailCodeStore(TwoFactorConfig{
		EmailCodeDigits: 6,
		EmailCodeTTL:    time.Minute,
		RedisPrefix:     "af2e",
	}, rdb)

	code, err := store.Issue(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := store.Verify(context.Background(), "u1", code); ok {
		t.Fatal("expired code must not redeem")
	}
}

package usecase

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"aembot/internal/domain"
)

func TestSessionCapEviction(t *testing.T) {
	s := NewSession("k", 10)
	for i := 0; i < 15; i++ {
		s.AddMessage(domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("msg-%d", i)})
	}

	msgs := s.Messages()
	if len(msgs) != 10 {
		t.Fatalf("history length = %d, want 10", len(msgs))
	}
	if msgs[0].Content != "msg-5" || msgs[9].Content != "msg-14" {
		t.Errorf("window = [%s .. %s], want [msg-5 .. msg-14]", msgs[0].Content, msgs[9].Content)
	}
}

func TestSessionCapHeldAfterEveryAppend(t *testing.T) {
	s := NewSession("k", 3)
	for i := 0; i < 20; i++ {
		s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "x"})
		if n := s.MessageCount(); n > 3 {
			t.Fatalf("history length %d exceeds cap after append %d", n, i)
		}
	}
}

func TestSessionMessagesReturnsCopy(t *testing.T) {
	s := NewSession("k", 10)
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "original"})

	msgs := s.Messages()
	msgs[0].Content = "mutated"

	if s.Messages()[0].Content != "original" {
		t.Error("external mutation leaked into session history")
	}
}

func TestSessionStoreGetOrCreate(t *testing.T) {
	st := NewSessionStore(10)

	a := st.GetOrCreate("a")
	if a == nil || a.ID == "" {
		t.Fatal("expected session with generated ID")
	}
	if again := st.GetOrCreate("a"); again != a {
		t.Error("GetOrCreate returned a different session for the same key")
	}
	if st.Len() != 1 {
		t.Errorf("Len = %d, want 1", st.Len())
	}
}

func TestSessionStoreGetUnknown(t *testing.T) {
	st := NewSessionStore(10)
	_, err := st.Get("missing")
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStoreReset(t *testing.T) {
	st := NewSessionStore(10)
	s := st.GetOrCreate("a")
	s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "hello"})

	st.Reset("a")
	if n := s.MessageCount(); n != 0 {
		t.Errorf("history length after reset = %d, want 0", n)
	}

	// Idempotent: resetting again is fine.
	st.Reset("a")
	if n := s.MessageCount(); n != 0 {
		t.Errorf("history length after second reset = %d, want 0", n)
	}
}

func TestSessionStoreResetUnknownCreatesNothing(t *testing.T) {
	st := NewSessionStore(10)
	st.Reset("never-seen")
	if st.Len() != 0 {
		t.Errorf("Len = %d after resetting unknown session, want 0", st.Len())
	}
}

func TestSessionStoreConcurrentAccess(t *testing.T) {
	st := NewSessionStore(10)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("s-%d", n%4)
			s := st.GetOrCreate(key)
			s.AddMessage(domain.Message{Role: domain.RoleUser, Content: "m"})
			_ = s.Messages()
		}(i)
	}
	wg.Wait()

	if st.Len() != 4 {
		t.Errorf("Len = %d, want 4", st.Len())
	}
}

package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jamoveo/rehearsal-backend/internal/models"
	"github.com/jamoveo/rehearsal-backend/internal/rehearsal"
)

func TestTryCreateEnforcesSingleton(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	first, err := store.TryCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("TryCreate: %v", err)
	}
	if first.Status != models.SessionActive || first.SessionToken == "" {
		t.Fatalf("created session = %+v", first)
	}

	if _, err := store.TryCreate(ctx, "u1"); !errors.Is(err, rehearsal.ErrSessionConflict) {
		t.Fatalf("second TryCreate: got %v, want ErrSessionConflict", err)
	}
}

func TestTryCreateUnderContention(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	const attempts = 64
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.TryCreate(ctx, "u1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created int
	for err := range errs {
		if err == nil {
			created++
		} else if !errors.Is(err, rehearsal.ErrSessionConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("created = %d, want exactly 1", created)
	}
}

func TestParticipantSpans(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	sess, err := store.TryCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("TryCreate: %v", err)
	}
	token := sess.SessionToken

	// Duplicate add keeps a single open span.
	for i := 0; i < 2; i++ {
		if err := store.AddParticipant(ctx, token, "u2", "bassist"); err != nil {
			t.Fatalf("AddParticipant #%d: %v", i+1, err)
		}
	}
	parts, err := store.GetOpenParticipants(ctx, token)
	if err != nil {
		t.Fatalf("GetOpenParticipants: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("open spans = %d, want 1", len(parts))
	}

	if err := store.CloseParticipant(ctx, token, "u2"); err != nil {
		t.Fatalf("CloseParticipant: %v", err)
	}
	if err := store.CloseParticipant(ctx, token, "u2"); !errors.Is(err, rehearsal.ErrNoOpenSpan) {
		t.Fatalf("second close: got %v, want ErrNoOpenSpan", err)
	}

	closed := store.ClosedParticipants(token)
	if len(closed) != 1 || closed[0].LeftAt == nil {
		t.Fatalf("closed spans = %+v, want one with LeftAt", closed)
	}
}

func TestMutationsOnEndedSession(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	sess, err := store.TryCreate(ctx, "u1")
	if err != nil {
		t.Fatalf("TryCreate: %v", err)
	}
	token := sess.SessionToken
	if err := store.End(ctx, token); err != nil {
		t.Fatalf("End: %v", err)
	}

	if err := store.AddParticipant(ctx, token, "u2", "bassist"); !errors.Is(err, rehearsal.ErrSessionEnded) {
		t.Errorf("AddParticipant: got %v, want ErrSessionEnded", err)
	}
	if err := store.SetCurrentSong(ctx, token, 42); !errors.Is(err, rehearsal.ErrSessionEnded) {
		t.Errorf("SetCurrentSong: got %v, want ErrSessionEnded", err)
	}
	if err := store.End(ctx, token); !errors.Is(err, rehearsal.ErrSessionEnded) {
		t.Errorf("second End: got %v, want ErrSessionEnded", err)
	}

	// History stays readable.
	ended, err := store.GetByToken(ctx, token)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}
	if ended.Status != models.SessionEnded || ended.EndedAt == nil {
		t.Fatalf("ended session = %+v", ended)
	}
}

func TestUnknownTokenErrors(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	if _, err := store.GetByToken(ctx, "nope"); !errors.Is(err, rehearsal.ErrSessionNotFound) {
		t.Errorf("GetByToken: got %v, want ErrSessionNotFound", err)
	}
	if err := store.AddParticipant(ctx, "nope", "u2", "bassist"); !errors.Is(err, rehearsal.ErrSessionNotFound) {
		t.Errorf("AddParticipant: got %v, want ErrSessionNotFound", err)
	}
	if err := store.SetCurrentSong(ctx, "nope", 42); !errors.Is(err, rehearsal.ErrSessionNotFound) {
		t.Errorf("SetCurrentSong: got %v, want ErrSessionNotFound", err)
	}
	if err := store.End(ctx, "nope"); !errors.Is(err, rehearsal.ErrSessionNotFound) {
		t.Errorf("End: got %v, want ErrSessionNotFound", err)
	}
	if _, err := store.GetOpenParticipants(ctx, "nope"); !errors.Is(err, rehearsal.ErrSessionNotFound) {
		t.Errorf("GetOpenParticipants: got %v, want ErrSessionNotFound", err)
	}
}

func TestClockInjection(t *testing.T) {
	store := NewSessionStore()
	fixed := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })

	sess, err := store.TryCreate(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TryCreate: %v", err)
	}
	if !sess.CreatedAt.Equal(fixed) {
		t.Fatalf("CreatedAt = %v, want %v", sess.CreatedAt, fixed)
	}
}

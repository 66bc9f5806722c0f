package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arcfault/switchboard/pkg/models"
)

func TestTurnsAppendOnly(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	turn := &models.Turn{ID: "t1", SessionID: "s1", Role: models.RoleUser, Content: "hi", CreatedAt: time.Now()}
	if err := s.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := s.AppendTurn(ctx, turn); !errors.Is(err, ErrFinalized) {
		t.Fatalf("rewrite err = %v, want ErrFinalized", err)
	}

	turns, err := s.SessionTurns(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionTurns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len = %d, want 1", len(turns))
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if _, err := s.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	session := &models.Session{ID: "s1", UserID: "u1", Title: "first", CreatedAt: time.Now()}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Title != "first" {
		t.Fatalf("title = %q", got.Title)
	}
}

func TestUserSessionsNewestFirst(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		_ = s.CreateSession(ctx, &models.Session{ID: id, UserID: "u1", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	_ = s.CreateSession(ctx, &models.Session{ID: "other", UserID: "u2", CreatedAt: base})

	sessions, err := s.UserSessions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("UserSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "c" {
		t.Fatalf("sessions = %+v, want newest first with limit", sessions)
	}
}

func TestUnconfiguredServerIsNilNotError(t *testing.T) {
	s := NewMemory()
	cfg, err := s.ServerConfig(context.Background(), "nope")
	if err != nil || cfg != nil {
		t.Fatalf("cfg = %v, err = %v; want nil, nil", cfg, err)
	}
}

func TestPoliciesSortedByPriorityThenCreatedAt(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)
	_ = s.SavePolicy(ctx, &models.AccessPolicy{ID: "p1", ServerID: "srv", Priority: 5, CreatedAt: time.Now()})
	_ = s.SavePolicy(ctx, &models.AccessPolicy{ID: "p2", ServerID: "srv", Priority: 1, CreatedAt: time.Now()})
	_ = s.SavePolicy(ctx, &models.AccessPolicy{ID: "p3", ServerID: "srv", Priority: 1, CreatedAt: old})

	policies, err := s.PoliciesForServer(ctx, "srv")
	if err != nil {
		t.Fatalf("PoliciesForServer: %v", err)
	}
	if len(policies) != 3 || policies[0].ID != "p3" || policies[1].ID != "p2" {
		t.Fatalf("order = %v", []string{policies[0].ID, policies[1].ID, policies[2].ID})
	}
}

func TestDefaultPolicyRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	if p, err := s.DefaultPolicy(ctx, models.DefaultPolicyUser); err != nil || p != nil {
		t.Fatalf("unset default should be nil, nil; got %v, %v", p, err)
	}
	_ = s.SetDefaultPolicy(ctx, models.DefaultPolicy{PolicyType: models.DefaultPolicyUser, DefaultAccess: models.AccessDeny})
	p, err := s.DefaultPolicy(ctx, models.DefaultPolicyUser)
	if err != nil || p == nil || p.DefaultAccess != models.AccessDeny {
		t.Fatalf("p = %v, err = %v", p, err)
	}
}

func TestPromptUsageRecorded(t *testing.T) {
	s := NewMemory()
	usage := &models.PromptUsage{SessionID: "s1", MessageID: "m1", UserID: "u1", MCPToolsCount: 3, CreatedAt: time.Now()}
	if err := s.RecordPromptUsage(context.Background(), usage); err != nil {
		t.Fatalf("RecordPromptUsage: %v", err)
	}
	rows := s.PromptUsageRows()
	if len(rows) != 1 || rows[0].MCPToolsCount != 3 {
		t.Fatalf("rows = %+v", rows)
	}
}

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arcfault/switchboard/internal/config"
	"github.com/arcfault/switchboard/internal/observability"
	"github.com/arcfault/switchboard/pkg/models"
)

func TestGenerateTagsNeverLiteral(t *testing.T) {
	for _, name := range []string{"list_subscriptions", "getUserProfile", "delete-resource-group"} {
		for _, tag := range GenerateTags(name) {
			if tag == name {
				t.Errorf("%s: literal name leaked into tags", name)
			}
		}
	}
}

func TestGenerateTagsVariants(t *testing.T) {
	tags := GenerateTags("list_subscriptions")
	want := []string{"list", "subscriptions", "subscription", "sub", "ls"}
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[tag] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			t.Errorf("tags %v missing %q", tags, w)
		}
	}
}

func TestGenerateTagsCamelAndKebab(t *testing.T) {
	camel := GenerateTags("getUserProfile")
	kebab := GenerateTags("get-user-profile")
	for _, tags := range [][]string{camel, kebab} {
		found := false
		for _, tag := range tags {
			if tag == "gup" {
				found = true
			}
		}
		if !found {
			t.Errorf("tags %v missing compound first-letter form", tags)
		}
	}
}

type fakePolicyStore struct {
	configs   map[string]*models.MCPServerConfig
	policies  map[string][]models.AccessPolicy
	defaults  map[models.DefaultPolicyType]*models.DefaultPolicy
	lookupErr error
}

func (s *fakePolicyStore) ServerConfig(_ context.Context, serverID string) (*models.MCPServerConfig, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.configs[serverID], nil
}

func (s *fakePolicyStore) PoliciesForServer(_ context.Context, serverID string) ([]models.AccessPolicy, error) {
	return s.policies[serverID], nil
}

func (s *fakePolicyStore) DefaultPolicy(_ context.Context, pt models.DefaultPolicyType) (*models.DefaultPolicy, error) {
	return s.defaults[pt], nil
}

func testUser(groups ...string) *models.User {
	return &models.User{ID: "u1", Groups: groups}
}

func TestAccessUnconfiguredServerAllows(t *testing.T) {
	ac := NewAccessController(&fakePolicyStore{}, observability.NopLogger())
	if !ac.Allowed(context.Background(), "unknown", testUser()) {
		t.Fatal("unconfigured server must allow")
	}
}

func TestAccessDisabledServerDenies(t *testing.T) {
	store := &fakePolicyStore{
		configs: map[string]*models.MCPServerConfig{"srv": {ID: "srv", Enabled: false}},
	}
	ac := NewAccessController(store, observability.NopLogger())
	if ac.Allowed(context.Background(), "srv", testUser()) {
		t.Fatal("disabled server must deny")
	}
}

func TestAccessFirstPolicyByPriorityWins(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	store := &fakePolicyStore{
		configs: map[string]*models.MCPServerConfig{"srv": {ID: "srv", Enabled: true}},
		policies: map[string][]models.AccessPolicy{
			"srv": {
				{AzureGroupID: "g1", AccessType: models.AccessDeny, Priority: 10, IsEnabled: true, CreatedAt: old},
				{AzureGroupID: "g1", AccessType: models.AccessAllow, Priority: 1, IsEnabled: true, CreatedAt: time.Now()},
				{AzureGroupID: "g2", AccessType: models.AccessDeny, Priority: 0, IsEnabled: true, CreatedAt: old},
			},
		},
	}
	ac := NewAccessController(store, observability.NopLogger())
	// g2 policy does not match; lowest matching priority is the allow.
	if !ac.Allowed(context.Background(), "srv", testUser("g1")) {
		t.Fatal("lowest-priority matching policy should allow")
	}
}

func TestAccessCreatedAtBreaksTies(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	store := &fakePolicyStore{
		configs: map[string]*models.MCPServerConfig{"srv": {ID: "srv", Enabled: true}},
		policies: map[string][]models.AccessPolicy{
			"srv": {
				{AzureGroupID: "g1", AccessType: models.AccessAllow, Priority: 1, IsEnabled: true, CreatedAt: time.Now()},
				{AzureGroupID: "g1", AccessType: models.AccessDeny, Priority: 1, IsEnabled: true, CreatedAt: older},
			},
		},
	}
	ac := NewAccessController(store, observability.NopLogger())
	if ac.Allowed(context.Background(), "srv", testUser("g1")) {
		t.Fatal("older policy at equal priority should win with deny")
	}
}

func TestAccessDefaultPolicyFallback(t *testing.T) {
	store := &fakePolicyStore{
		configs: map[string]*models.MCPServerConfig{"srv": {ID: "srv", Enabled: true}},
		defaults: map[models.DefaultPolicyType]*models.DefaultPolicy{
			models.DefaultPolicyUser:  {PolicyType: models.DefaultPolicyUser, DefaultAccess: models.AccessDeny},
			models.DefaultPolicyAdmin: {PolicyType: models.DefaultPolicyAdmin, DefaultAccess: models.AccessAllow},
		},
	}
	ac := NewAccessController(store, observability.NopLogger())
	if ac.Allowed(context.Background(), "srv", testUser()) {
		t.Fatal("user default should deny")
	}
	admin := testUser()
	admin.IsAdmin = true
	if !ac.Allowed(context.Background(), "srv", admin) {
		t.Fatal("admin default should allow")
	}
}

func TestAccessLookupErrorFailsSecure(t *testing.T) {
	store := &fakePolicyStore{lookupErr: errors.New("db down")}
	ac := NewAccessController(store, observability.NopLogger())
	if ac.Allowed(context.Background(), "srv", testUser()) {
		t.Fatal("lookup error must deny")
	}
}

func TestFilterToolsRemovesDeniedServers(t *testing.T) {
	store := &fakePolicyStore{
		configs: map[string]*models.MCPServerConfig{"locked": {ID: "locked", Enabled: false}},
	}
	ac := NewAccessController(store, observability.NopLogger())
	tools := []models.ToolDescriptor{
		{ID: "open.search", ServerID: "open", Name: "search"},
		{ID: "locked.delete", ServerID: "locked", Name: "delete"},
		{ID: "open.fetch", ServerID: "open", Name: "fetch"},
	}
	out := ac.FilterTools(context.Background(), testUser(), tools)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	for _, tool := range out {
		if tool.ServerID == "locked" {
			t.Fatal("denied server's tool survived the filter")
		}
	}
}

func TestPoolCapAndSweep(t *testing.T) {
	p := NewPool(2, time.Minute, time.Hour, observability.NopLogger())
	defer p.Stop()

	if p.Acquire("a") == nil || p.Acquire("b") == nil {
		t.Fatal("pool should admit up to the cap")
	}
	if p.Acquire("c") != nil {
		t.Fatal("pool at capacity must refuse new workers")
	}
	if p.Acquire("a") == nil {
		t.Fatal("existing worker should always be returned")
	}

	if evicted := p.sweep(time.Now().Add(2 * time.Minute)); evicted != 2 {
		t.Fatalf("evicted = %d, want 2", evicted)
	}
	if p.Size() != 0 {
		t.Fatalf("size = %d after sweep", p.Size())
	}
}

type fakeOrchestrator struct {
	servers  []models.MCPServer
	tools    map[string][]models.ToolDescriptor
	executed []string
	execErr  error
}

func (f *fakeOrchestrator) ListServers(context.Context) ([]models.MCPServer, error) {
	return f.servers, nil
}

func (f *fakeOrchestrator) GetServerTools(_ context.Context, serverID string) ([]models.ToolDescriptor, error) {
	return f.tools[serverID], nil
}

func (f *fakeOrchestrator) ExecuteTool(_ context.Context, serverID, tool string, _ json.RawMessage, _ string) (json.RawMessage, error) {
	f.executed = append(f.executed, serverID+"."+tool)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func testManager(orch Orchestrator, store PolicyStore) *Manager {
	cfg := config.MCPConfig{MaxUserWorkers: 10, WorkerIdleTimeout: time.Hour, WorkerSweepInterval: time.Hour}
	return NewManager(cfg, orch, NewAccessController(store, observability.NopLogger()), nil,
		observability.NopLogger(), observability.NewMetrics(prometheus.NewRegistry()))
}

func TestDiscoverToolsTagsAndFilters(t *testing.T) {
	orch := &fakeOrchestrator{
		servers: []models.MCPServer{
			{ID: "azure", Enabled: true, Status: models.ServerStatusRunning},
			{ID: "stopped", Enabled: true, Status: models.ServerStatusStopped},
		},
		tools: map[string][]models.ToolDescriptor{
			"azure":   {{ID: "azure.list_subscriptions", ServerID: "azure", Name: "list_subscriptions"}},
			"stopped": {{ID: "stopped.x", ServerID: "stopped", Name: "x"}},
		},
	}
	m := testManager(orch, &fakePolicyStore{})
	defer m.Close()

	tools, err := m.DiscoverTools(context.Background(), testUser())
	if err != nil {
		t.Fatalf("DiscoverTools: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("len = %d, want 1 (stopped server skipped)", len(tools))
	}
	if len(tools[0].Tags) == 0 {
		t.Fatal("discovered tool should carry generated tags")
	}
}

func TestExecuteDeniedAtExecutionTime(t *testing.T) {
	orch := &fakeOrchestrator{}
	store := &fakePolicyStore{
		configs: map[string]*models.MCPServerConfig{"locked": {ID: "locked", Enabled: false}},
	}
	m := testManager(orch, store)
	defer m.Close()

	_, err := m.Execute(context.Background(), testUser(), "locked.delete_everything", nil)
	if !errors.Is(err, ErrToolDenied) {
		t.Fatalf("err = %v, want ErrToolDenied", err)
	}
	if len(orch.executed) != 0 {
		t.Fatal("denied tool must never reach the orchestrator")
	}
}

func TestExecuteSplitsDottedToolNames(t *testing.T) {
	orch := &fakeOrchestrator{}
	m := testManager(orch, &fakePolicyStore{})
	defer m.Close()

	if _, err := m.Execute(context.Background(), testUser(), "srv.fs.read", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(orch.executed) != 1 || orch.executed[0] != "srv.fs.read" {
		t.Fatalf("executed = %v", orch.executed)
	}

	if _, err := m.Execute(context.Background(), testUser(), "noserver", nil); err == nil {
		t.Fatal("malformed tool id should fail")
	}
}

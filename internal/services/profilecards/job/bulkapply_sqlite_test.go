package job

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/louisbranch/profilecards/internal/platform/telemetry/metrics"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/mutate"
	"github.com/louisbranch/profilecards/internal/services/profilecards/query"
	"github.com/louisbranch/profilecards/internal/services/profilecards/security"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBulkApplyAgainstSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "profilecards.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	put := func(item domain.Item) *domain.Item {
		item.Database = "master"
		stored, err := store.PutItem(ctx, item)
		if err != nil {
			t.Fatalf("put %s: %v", item.ID, err)
		}
		return &stored
	}
	put(domain.Item{ID: "sitecore", Name: "sitecore"})
	put(domain.Item{ID: "content", ParentID: "sitecore", Name: "content"})
	put(domain.Item{ID: "home", ParentID: "content", Name: "Home", Bucket: true})
	put(domain.Item{ID: "a", ParentID: "home", Name: "ProductA", Template: "Product", Attributes: map[string]string{"PersonalizationScore": "5"}})
	put(domain.Item{ID: "v1", ParentID: "a", Name: "Variant1", Template: "Variant", Attributes: map[string]string{"PersonalizationScore": "1"}})
	put(domain.Item{ID: "v2", ParentID: "a", Name: "Variant2", Template: "Variant", Attributes: map[string]string{"PersonalizationScore": "2"}})
	put(domain.Item{ID: "v3", ParentID: "a", Name: "Variant3", Template: "Variant"})
	put(domain.Item{ID: "b1", ParentID: "home", Name: "Variant1", Template: "Variant"})
	if err := store.SetIndexStatus(ctx, storage.IndexStatus{Database: "master"}); err != nil {
		t.Fatalf("index status: %v", err)
	}
	if err := store.PutPrincipal(ctx, domain.Identity{Name: "editor", Roles: []string{"editors"}}); err != nil {
		t.Fatalf("put principal: %v", err)
	}
	if err := store.SetAccess(ctx, "master", "home", []storage.AccessEntry{
		{Principal: "role:editors", Right: storage.RightWrite, Allow: true},
	}); err != nil {
		t.Fatalf("set access: %v", err)
	}
	if err := store.SetAccess(ctx, "master", "v2", []storage.AccessEntry{
		{Principal: "editor", Right: storage.RightWrite, Allow: false},
	}); err != nil {
		t.Fatalf("set access: %v", err)
	}

	anchor, err := store.GetItem(ctx, "master", "a")
	if err != nil {
		t.Fatalf("get anchor: %v", err)
	}
	identity, err := store.ResolveIdentity(ctx, "editor")
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}

	reg := metrics.NewRegistry()
	jobMetrics := NewMetrics(reg)
	service := NewService(
		NewScheduler(store, jobMetrics),
		query.NewEngine(store, 2),
		security.NewGate(store),
		mutate.NewMutator(store),
		jobMetrics,
	)
	handle, err := service.Start(ctx, BulkApplyArgs{
		Anchor:       anchor,
		SearchString: "template = 'Variant' AND name:'Variant'",
		AttributeKey: "PersonalizationScore",
		Value:        anchor.Attribute("PersonalizationScore"),
		Identity:     identity,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-handle.Done()

	if handle.State() != StateCompleted {
		t.Fatalf("state = %s (err %v, messages %v)", handle.State(), handle.Err(), handle.Messages())
	}
	if got := countPrefix(handle.Messages(), "Applying profile card to item"); got != 2 {
		t.Fatalf("applying lines = %d: %v", got, handle.Messages())
	}
	want := map[string]string{"v1": "5", "v2": "2", "v3": "5", "b1": "", "a": "5"}
	for id, value := range want {
		item, err := store.GetItem(ctx, "master", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got := item.Attribute("PersonalizationScore"); got != value {
			t.Fatalf("%s = %q, want %q", id, got, value)
		}
	}

	record, err := store.GetJob(ctx, handle.ID())
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if record.State != string(StateCompleted) || record.Icon != Icon || record.Key != "master/a" || record.Principal != "editor" {
		t.Fatalf("ledger = %+v", record)
	}
	if len(record.Messages) != len(handle.Messages()) {
		t.Fatalf("ledger messages = %d, want %d", len(record.Messages), len(handle.Messages()))
	}
	if got := testutil.ToFloat64(jobMetrics.candidates.WithLabelValues(outcomeApplied)); got != 2 {
		t.Fatalf("applied metric = %v", got)
	}
	if got := testutil.ToFloat64(jobMetrics.finished.WithLabelValues(string(StateCompleted))); got != 1 {
		t.Fatalf("completed metric = %v", got)
	}
}

package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	platformgrpc "github.com/louisbranch/profilecards/internal/platform/grpc"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/job"
	"github.com/louisbranch/profilecards/internal/services/profilecards/mutate"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage/sqlite"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const trackingKey = domain.DefaultAttributeKey

func openSeededStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "profilecards.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := LoadSeedFile(ctx, store, filepath.Join("testdata", "seed.yaml")); err != nil {
		t.Fatalf("load seed: %v", err)
	}
	return store
}

func postForm(t *testing.T, target, principal string, form url.Values) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Profilecards-User", principal)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post %s: %v", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return resp.StatusCode, out
}

func TestApplyProfileCardsEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := openSeededStore(t)
	services := NewServices(store, ServicesConfig{IndexPageSize: 2, RestoreAnchor: true, Locale: "en-US"})
	server := httptest.NewServer(services.HTTP.Handler())
	defer server.Close()

	status, body := postForm(t, server.URL+"/items/master/product-a/profile-cards/apply", "editor", url.Values{
		"url": {`template = 'Variant' AND name:'Variant'`},
	})
	if status != http.StatusAccepted {
		t.Fatalf("apply status = %d body = %v", status, body)
	}
	handle, _ := body["handle"].(string)
	dialogURL, _ := body["dialogUrl"].(string)
	if handle == "" || !strings.Contains(dialogURL, "itemid=product-a") {
		t.Fatalf("apply body = %v", body)
	}

	// The dialog writes the new value onto the anchor.
	anchor, err := store.GetItem(ctx, "master", "product-a")
	if err != nil {
		t.Fatalf("get anchor: %v", err)
	}
	if err := mutate.NewMutator(store).SetAttribute(ctx, anchor, trackingKey, "<profile score='5'/>"); err != nil {
		t.Fatalf("dialog edit: %v", err)
	}

	if status, _ := postForm(t, server.URL+"/continuations/"+handle, "reviewer", url.Values{"modified": {"1"}}); status != http.StatusGone {
		t.Fatalf("foreign resume status = %d", status)
	}
	status, body = postForm(t, server.URL+"/continuations/"+handle, "editor", url.Values{"modified": {"1"}})
	if status != http.StatusAccepted {
		t.Fatalf("resume status = %d body = %v", status, body)
	}
	jobID, _ := body["jobId"].(string)
	running, ok := services.Scheduler.Get(jobID)
	if !ok {
		t.Fatalf("job %q not found", jobID)
	}
	select {
	case <-running.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
	if running.State() != job.StateCompleted {
		t.Fatalf("state = %s messages = %v", running.State(), running.Messages())
	}
	if running.Alert() != "Finished applying profile scores" {
		t.Fatalf("alert = %q", running.Alert())
	}

	want := map[string]string{
		"product-a":  "<profile score='3'/>",
		"variant-1":  "<profile score='5'/>",
		"variant-2":  "",
		"variant-3":  "<profile score='5'/>",
		"variant-b1": "",
	}
	for id, value := range want {
		item, err := store.GetItem(ctx, "master", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got := item.Attribute(trackingKey); got != value {
			t.Fatalf("%s = %q, want %q", id, got, value)
		}
	}

	applying := 0
	for _, message := range running.Messages() {
		if strings.HasPrefix(message, "Applying profile card to item") {
			applying++
		}
	}
	if applying != 2 {
		t.Fatalf("applying lines = %d: %v", applying, running.Messages())
	}

	record, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if record.State != string(job.StateCompleted) || record.Principal != "editor" {
		t.Fatalf("ledger = %+v", record)
	}
}

func TestApplyMatchAllKeepsAnchorEdit(t *testing.T) {
	ctx := context.Background()
	store := openSeededStore(t)
	services := NewServices(store, ServicesConfig{RestoreAnchor: true, Locale: "en-US"})
	server := httptest.NewServer(services.HTTP.Handler())
	defer server.Close()

	status, body := postForm(t, server.URL+"/items/master/product-a/profile-cards/apply", "editor", url.Values{"url": {""}})
	if status != http.StatusAccepted {
		t.Fatalf("apply status = %d body = %v", status, body)
	}
	handle, _ := body["handle"].(string)

	anchor, err := store.GetItem(ctx, "master", "product-a")
	if err != nil {
		t.Fatalf("get anchor: %v", err)
	}
	if err := mutate.NewMutator(store).SetAttribute(ctx, anchor, trackingKey, "NEW"); err != nil {
		t.Fatalf("dialog edit: %v", err)
	}

	status, body = postForm(t, server.URL+"/continuations/"+handle, "editor", url.Values{"modified": {"1"}})
	if status != http.StatusAccepted {
		t.Fatalf("resume status = %d body = %v", status, body)
	}
	running, ok := services.Scheduler.Get(body["jobId"].(string))
	if !ok {
		t.Fatalf("job %v not found", body["jobId"])
	}
	select {
	case <-running.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("job did not finish")
	}
	if running.State() != job.StateCompleted {
		t.Fatalf("state = %s messages = %v", running.State(), running.Messages())
	}

	want := map[string]string{
		"product-a":  "NEW",
		"variant-1":  "NEW",
		"variant-2":  "",
		"variant-3":  "NEW",
		"product-b":  "",
		"variant-b1": "",
	}
	for id, value := range want {
		item, err := store.GetItem(ctx, "master", id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got := item.Attribute(trackingKey); got != value {
			t.Fatalf("%s = %q, want %q", id, got, value)
		}
	}

	messages := running.Messages()
	wantLines := []string{
		"Restored original profile card value on /sitecore/content/Home/ProductA",
		"Applying profile card to item /sitecore/content/Home/ProductA",
		"Applying profile card to item /sitecore/content/Home/ProductA/Variant1",
		"Applying profile card to item /sitecore/content/Home/ProductA/Variant3",
	}
	if len(messages) < len(wantLines) {
		t.Fatalf("messages = %v", messages)
	}
	for i, line := range wantLines {
		if messages[i] != line {
			t.Fatalf("message %d = %q, want %q", i, messages[i], line)
		}
	}
}

func TestApplyDeniedForReviewer(t *testing.T) {
	store := openSeededStore(t)
	services := NewServices(store, ServicesConfig{})
	server := httptest.NewServer(services.HTTP.Handler())
	defer server.Close()

	status, body := postForm(t, server.URL+"/items/master/product-a/profile-cards/apply", "reviewer", url.Values{})
	if status != http.StatusForbidden || body["error"] != "PERMISSION_DENIED" {
		t.Fatalf("status = %d body = %v", status, body)
	}
}

func TestAdminReindexesSeededIndex(t *testing.T) {
	store := openSeededStore(t)
	services := NewServices(store, ServicesConfig{})
	server := httptest.NewServer(services.HTTP.Handler())
	defer server.Close()

	if status, _ := postForm(t, server.URL+"/admin/indexes/master/reindex", "editor", url.Values{}); status != http.StatusForbidden {
		t.Fatalf("editor reindex status = %d", status)
	}
	status, body := postForm(t, server.URL+"/admin/indexes/master/reindex", "admin", url.Values{})
	if status != http.StatusOK || body["entries"] != float64(9) {
		t.Fatalf("admin reindex = %d %v", status, body)
	}
}

func TestSweepRemovesExpiredSlotsAndFinishedJobs(t *testing.T) {
	ctx := context.Background()
	store := openSeededStore(t)
	services := NewServices(store, ServicesConfig{SlotTTL: time.Minute, JobRetention: time.Minute})

	editor, err := store.ResolveIdentity(ctx, "editor")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	anchor, err := store.GetItem(ctx, "master", "product-a")
	if err != nil {
		t.Fatalf("get anchor: %v", err)
	}
	handle, err := services.Jobs.Start(ctx, job.BulkApplyArgs{Anchor: anchor, Identity: editor, SearchString: "template = 'Nothing'"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-handle.Done()

	services.Sweep(ctx, time.Now().Add(2*time.Minute))
	if _, ok := services.Scheduler.Get(handle.ID()); ok {
		t.Fatal("finished job still tracked after retention")
	}
	if _, err := store.GetJob(ctx, handle.ID()); err != nil {
		t.Fatalf("ledger lost job: %v", err)
	}
}

func TestServeReportsHealthAndStops(t *testing.T) {
	store := openSeededStore(t)
	services := NewServices(store, ServicesConfig{MaxConnections: 8})

	httpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen http: %v", err)
	}
	grpcListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen grpc: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- services.Serve(ctx, httpListener, grpcListener, time.Hour)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := platformgrpc.CheckHealth(context.Background(), grpcListener.Addr().String(), HealthService)
		if err == nil && status == grpc_health_v1.HealthCheckResponse_SERVING {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health never served: %v %v", status, err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	resp, err := http.Get("http://" + httpListener.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	resp, err = http.Get("http://" + httpListener.Addr().String() + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status = %d", resp.StatusCode)
	}
	resp, err = http.Get("http://" + httpListener.Addr().String() + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	metricsBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(metricsBody), "profilecards_jobs_running") {
		t.Fatalf("metrics body missing job gauge")
	}

	cancel()
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestLoadSeedFileErrors(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "profilecards.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := LoadSeedFile(ctx, store, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
	orphan := Seed{Items: []SeedItem{{Database: "master", ID: "child", Parent: "nobody", Name: "Child"}}}
	if err := ApplySeed(ctx, store, orphan); err == nil {
		t.Fatal("expected error for unknown parent")
	}
	badIndex := Seed{Indexes: []SeedIndex{{Database: "master", Status: "melting"}}}
	if err := ApplySeed(ctx, store, badIndex); err == nil {
		t.Fatal("expected error for unknown index status")
	}
}

func TestRuntimeConfigDefaults(t *testing.T) {
	cfg := RuntimeConfig{}.normalized()
	if cfg.HTTPAddr != ":8095" || cfg.Port != 8096 || cfg.DBPath != "data/profilecards.db" || cfg.SlotSweepInterval != 5*time.Minute {
		t.Fatalf("defaults = %+v", cfg)
	}
}

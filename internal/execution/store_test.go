package execution

import (
	"path/filepath"
	"testing"
	"time"

	clierr "github.com/ggonzalez94/defi-agent/internal/errors"
	"github.com/ggonzalez94/defi-agent/internal/model"
)

func openTestJournal(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(filepath.Join(dir, "swaps.db"), filepath.Join(dir, "swaps.lock"))
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreSaveGetList(t *testing.T) {
	store := openTestJournal(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := model.SwapRecord{
		ID:        "swp_1",
		Account:   "default",
		ChainID:   137,
		State:     "failed",
		Intent:    model.SwapIntent{Action: "swap", FromToken: "WETH", ToToken: "USDC", Amount: "1", AmountUnit: "WETH"},
		ErrorCode: "confirmation_timeout",
		TxHash:    "0xabc",
		CreatedAt: created,
		UpdatedAt: created,
	}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Get("swp_1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Intent.ToToken != "USDC" || got.TxHash != "0xabc" {
		t.Fatalf("unexpected record: %+v", got)
	}

	got.State = "settled"
	got.UpdatedAt = created.Add(time.Minute)
	if err := store.Save(got); err != nil {
		t.Fatalf("Save update failed: %v", err)
	}
	if err := store.Save(model.SwapRecord{ID: "swp_2", Account: "default", ChainID: 137, State: "cancelled", CreatedAt: created, UpdatedAt: created.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("Save second failed: %v", err)
	}

	settled, err := store.List("settled", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(settled) != 1 || settled[0].ID != "swp_1" {
		t.Fatalf("expected one settled swap, got %+v", settled)
	}
	all, err := store.List("", 10)
	if err != nil {
		t.Fatalf("List all failed: %v", err)
	}
	if len(all) != 2 || all[0].ID != "swp_2" {
		t.Fatalf("expected newest first, got %+v", all)
	}
}

func TestStoreGetMissingSwap(t *testing.T) {
	store := openTestJournal(t)
	if _, err := store.Get("missing"); !clierr.Is(err, clierr.CodeUsage) {
		t.Fatalf("expected missing swap error, got %v", err)
	}
	if err := store.Save(model.SwapRecord{}); err == nil {
		t.Fatal("expected error for record without id")
	}
}

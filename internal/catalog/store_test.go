package catalog

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"SweetHouse/internal/storage"
)

func TestStore_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemArea(0).Session(), nil, nil)

	for _, n := range []int{0, 1, 5} {
		want := sampleProducts(n)
		if err := s.Write(ctx, want); err != nil {
			t.Fatalf("write %d: %v", n, err)
		}
		got := s.Read(ctx)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip %d:\n got=%+v\nwant=%+v", n, got, want)
		}
	}
}

func TestStore_WriteNilStoresEmptyArray(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemArea(0).Session(), nil, nil)

	if err := s.Write(ctx, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, ok, err := s.Raw(ctx)
	if err != nil || !ok || raw != "[]" {
		t.Fatalf("raw=%q ok=%v err=%v", raw, ok, err)
	}
}

func TestStore_ReadRecoversFromBadData(t *testing.T) {
	ctx := context.Background()
	sess := storage.NewMemArea(0).Session()
	s := NewStore(sess, nil, nil)

	if got := s.Read(ctx); got == nil || len(got) != 0 {
		t.Fatalf("absent key: got %#v", got)
	}

	for _, raw := range []string{"not json", `{"id":"x"}`, "null", "[null]", "[1,2]"} {
		if err := sess.Set(ctx, StorageKey, raw); err != nil {
			t.Fatalf("set: %v", err)
		}
		if got := s.Read(ctx); len(got) != 0 {
			t.Fatalf("%q: expected empty catalog, got %d items", raw, len(got))
		}
		if _, err := s.Load(ctx); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func TestStore_LoadNormalizesLegacyRecords(t *testing.T) {
	ctx := context.Background()
	sess := storage.NewMemArea(0).Session()
	s := NewStore(sess, nil, nil)

	raw := `[{"id":7,"name":"Badam","price":"160","weightLabel":"200g","img":"b.png","createdAt":1735689600000},
	         {"id":"x","title":"Pista","price":true,"category":["bad"]}]`
	if err := sess.Set(ctx, StorageKey, raw); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []Product{
		{ID: "7", Title: "Badam", Price: 160, Description: "200g", Image: "b.png", CreatedAt: "2025-01-01T00:00:00.000Z"},
		{ID: "x", Title: "Pista"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%+v\nwant=%+v", got, want)
	}
}

// Scenario: empty store, seed with one product, read returns exactly it.
func TestStore_SeedIfAbsentOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemArea(0).Session(), nil, nil)

	seed := []Product{{ID: "seed-badam", Title: "Badam", Price: 160, Description: "200g", Category: "Dry Fruits"}}
	seeded, err := s.SeedIfAbsent(ctx, seed)
	if err != nil || !seeded {
		t.Fatalf("seeded=%v err=%v", seeded, err)
	}
	if got := s.Read(ctx); !reflect.DeepEqual(got, seed) {
		t.Fatalf("got=%+v", got)
	}
}

func TestStore_SeedIfAbsentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemArea(0).Session(), nil, nil)
	seed := DefaultSeed(fixedNow)

	if _, err := s.SeedIfAbsent(ctx, seed); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	first, _, _ := s.Raw(ctx)

	for i := 0; i < 3; i++ {
		seeded, err := s.SeedIfAbsent(ctx, seed)
		if err != nil || seeded {
			t.Fatalf("repeat %d: seeded=%v err=%v", i, seeded, err)
		}
	}
	again, _, _ := s.Raw(ctx)
	if again != first {
		t.Fatalf("stored value changed after repeated seeding")
	}
}

func TestStore_SeedKeepsDeliberatelyEmptiedCatalog(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemArea(0).Session(), nil, nil)

	if err := s.Write(ctx, []Product{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	seeded, err := s.SeedIfAbsent(ctx, DefaultSeed(fixedNow))
	if err != nil || seeded {
		t.Fatalf("seeded=%v err=%v", seeded, err)
	}
	if got := s.Read(ctx); len(got) != 0 {
		t.Fatalf("expected empty catalog, got %d", len(got))
	}
}

func TestStore_ClearRemovesKey(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemArea(0).Session(), nil, nil)

	if err := s.Write(ctx, sampleProducts(2)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Raw(ctx); ok {
		t.Fatalf("key still present after clear")
	}
}

func TestStore_WriteRejectedByQuota(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemArea(64).Session(), nil, nil)

	err := s.Write(ctx, sampleProducts(3))
	if !errors.Is(err, ErrWriteRejected) || !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("expected quota rejection, got %v", err)
	}
	if _, ok, _ := s.Raw(ctx); ok {
		t.Fatalf("rejected write left a value behind")
	}
}

func TestDefaultSeed(t *testing.T) {
	ps := DefaultSeed(fixedNow)
	if len(ps) != 39 {
		t.Fatalf("expected 39 products, got %d", len(ps))
	}

	seen := make(map[string]bool)
	for _, p := range ps {
		if seen[p.ID] {
			t.Fatalf("duplicate id %q", p.ID)
		}
		seen[p.ID] = true
		if p.Title == "" || p.Price <= 0 || p.Category == "" || p.Image == "" {
			t.Fatalf("incomplete seed product %+v", p)
		}
	}
	if ps[0].ID != "dry-fruits-0" || ps[0].Title != "Badam" || ps[0].Price != 160 {
		t.Fatalf("unexpected first product %+v", ps[0])
	}
}

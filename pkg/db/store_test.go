package db

import (
	"bytes"
	"database/sql"
	"errors"
	"testing"

	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/lattice"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func sampleSeeds() []lattice.Seed {
	return []lattice.Seed{
		{
			ID: "S0001", Position: 1, Known: "I want to speak", Target: "quiero hablar",
			Legos: []lattice.Lego{
				{ID: "S0001L01", Kind: lattice.Atomic, Origin: lattice.New, Known: "I want", Target: "quiero"},
				{ID: "S0001L02", Kind: lattice.Atomic, Origin: lattice.New, Known: "to speak", Target: "hablar"},
			},
		},
		{
			ID: "S0002", Position: 2, Known: "I want to speak with you", Target: "Quiero hablar  contigo.",
			Legos: []lattice.Lego{
				{ID: "S0002L01", Kind: lattice.Atomic, Origin: lattice.New, Known: "I want", Target: "Quiero"},
				{
					ID: "S0002L02", Kind: lattice.Composite, Origin: lattice.New, Known: "to speak with you", Target: "hablar  contigo.",
					Components: []lattice.Component{
						{Known: "to speak", Target: "hablar", FeederID: "S0001L02"},
						{Known: "with you", Target: "contigo."},
					},
				},
			},
		},
	}
}

func TestInitDBCreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	for _, table := range []string{"merge_batches", "seeds", "legos", "lego_components", "baskets", "basket_phrases"} {
		var name string
		if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
	// Idempotent.
	if err := InitDB(db); err != nil {
		t.Fatalf("second InitDB: %v", err)
	}
}

func TestSaveAndLoadSeedsRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seeds := sampleSeeds()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := SaveBatch(tx, Batch{ID: "b-1", Version: 1, Seeds: 2, NewLegos: 4}, seeds); err != nil {
		t.Fatalf("save batch: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := LoadSeeds(db)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var want, have bytes.Buffer
	if err := lattice.EncodeSeeds(&want, seeds); err != nil {
		t.Fatal(err)
	}
	if err := lattice.EncodeSeeds(&have, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want.Bytes(), have.Bytes()) {
		t.Fatalf("stored form changed:\nwant %s\ngot  %s", want.String(), have.String())
	}

	batches, err := ListBatches(db)
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	if len(batches) != 1 || batches[0].ID != "b-1" || batches[0].NewLegos != 4 || batches[0].CommittedAt.IsZero() {
		t.Fatalf("unexpected batches %+v", batches)
	}
}

func TestSaveBatchRejectsDuplicates(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seeds := sampleSeeds()[:1]
	if err := SaveBatch(db, Batch{ID: "b-1", Version: 1}, seeds); err != nil {
		t.Fatalf("save: %v", err)
	}
	err := SaveBatch(db, Batch{ID: "b-2", Version: 2}, seeds)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestSaveBatchRollsBackInTransaction(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seeds := sampleSeeds()
	// Feeder points at a LEGO that is never stored.
	seeds[1].Legos[1].Components[0].FeederID = "S0009L01"

	tx, err := db.Begin()
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveBatch(tx, Batch{ID: "b-1", Version: 1}, seeds); err == nil {
		t.Fatal("expected foreign key failure")
	}
	tx.Rollback()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM seeds`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected no seeds after rollback, got %d", n)
	}
}

func TestSaveAndLoadBaskets(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	if err := SaveBatch(db, Batch{ID: "b-1", Version: 1}, sampleSeeds()); err != nil {
		t.Fatalf("save batch: %v", err)
	}

	b := &basket.Basket{
		LegoID: "S0001L02",
		Lego:   lattice.Pair{Known: "to speak", Target: "hablar"},
		Phrases: []basket.Phrase{
			{Known: "to speak", Target: "hablar", Tag: "bare", LegoCount: 1},
			{Known: "I want to speak", Target: "quiero hablar", Tag: basket.TagSeed, LegoCount: 2},
		},
		Distribution: []basket.BucketCount{{Name: "1-2", Quota: 2, Filled: 2}},
	}
	if err := SaveBasket(db, 1, b); err != nil {
		t.Fatalf("save basket: %v", err)
	}
	// Replacing keeps one copy.
	b.Phrases[0].Tag = ""
	if err := SaveBasket(db, 2, b); err != nil {
		t.Fatalf("replace basket: %v", err)
	}

	got, err := LoadBaskets(db)
	if err != nil {
		t.Fatalf("load baskets: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 basket, got %d", len(got))
	}
	g := got[0]
	if g.LegoID != "S0001L02" || g.Lego != b.Lego || len(g.Phrases) != 2 {
		t.Fatalf("unexpected basket %+v", g)
	}
	if g.Phrases[0] != b.Phrases[0] || g.Phrases[1] != b.Phrases[1] {
		t.Fatalf("phrases differ: %+v", g.Phrases)
	}
	if len(g.Distribution) != 1 || g.Distribution[0] != b.Distribution[0] {
		t.Fatalf("distribution differs: %+v", g.Distribution)
	}

	if err := ClearBaskets(db); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = LoadBaskets(db)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no baskets after clear, got %d (%v)", len(got), err)
	}
}

package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/japaniel/coursegen/pkg/basket"
	"github.com/japaniel/coursegen/pkg/lattice"
)

// ErrDuplicate is returned when a seed, LEGO or batch is already persisted.
var ErrDuplicate = errors.New("already persisted")

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// isUniqueConstraintErr returns true when the error indicates a unique/constraint violation
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "unique") || strings.Contains(s, "constraint failed")
}

func wrapInsert(what string, err error) error {
	if isUniqueConstraintErr(err) {
		return fmt.Errorf("insert %s: %w: %v", what, ErrDuplicate, err)
	}
	return fmt.Errorf("insert %s: %w", what, err)
}

// nullableString returns nil for "" else the value.
func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// SaveBatch persists a committed merge batch and its seeds. Run it inside a
// transaction so a failure leaves nothing behind.
func SaveBatch(db DBExecutor, b Batch, seeds []lattice.Seed) error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("batch id must be non-empty")
	}
	if b.CommittedAt.IsZero() {
		b.CommittedAt = time.Now().UTC()
	}
	if _, err := db.Exec(
		`INSERT INTO merge_batches (id, version, seed_count, new_legos, reference_legos, committed_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.Version, b.Seeds, b.NewLegos, b.References, b.CommittedAt,
	); err != nil {
		return wrapInsert("batch "+b.ID, err)
	}

	for _, s := range seeds {
		if _, err := db.Exec(
			`INSERT INTO seeds (id, position, known_text, target_text, batch_id) VALUES (?, ?, ?, ?, ?)`,
			s.ID, s.Position, s.Known, s.Target, b.ID,
		); err != nil {
			return wrapInsert("seed "+s.ID, err)
		}
		for seq, l := range s.Legos {
			if _, err := db.Exec(
				`INSERT INTO legos (id, seed_id, seq, kind, origin, known_text, target_text, ref_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				l.ID, s.ID, seq+1, string(l.Kind), string(l.Origin), l.Known, l.Target, nullableString(l.RefID),
			); err != nil {
				return wrapInsert("lego "+l.ID, err)
			}
			for ord, c := range l.Components {
				if _, err := db.Exec(
					`INSERT INTO lego_components (lego_id, ord, known_fragment, target_fragment, feeder_id) VALUES (?, ?, ?, ?, ?)`,
					l.ID, ord, c.Known, c.Target, nullableString(c.FeederID),
				); err != nil {
					return wrapInsert(fmt.Sprintf("component %s/%d", l.ID, ord), err)
				}
			}
		}
	}
	return nil
}

// LoadSeeds returns every persisted seed in position order with its LEGOs
// and components, ready for lattice.Load.
func LoadSeeds(db DBExecutor) ([]lattice.Seed, error) {
	rows, err := db.Query(`SELECT id, position, known_text, target_text FROM seeds ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query seeds: %w", err)
	}
	var seeds []lattice.Seed
	idx := map[string]int{}
	for rows.Next() {
		var s lattice.Seed
		if err := rows.Scan(&s.ID, &s.Position, &s.Known, &s.Target); err != nil {
			rows.Close()
			return nil, err
		}
		idx[s.ID] = len(seeds)
		seeds = append(seeds, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Query(`SELECT l.id, l.seed_id, l.kind, l.origin, l.known_text, l.target_text, l.ref_id
		FROM legos l JOIN seeds s ON s.id = l.seed_id ORDER BY s.position, l.seq`)
	if err != nil {
		return nil, fmt.Errorf("query legos: %w", err)
	}
	type at struct{ seed, seq int }
	where := map[string]at{}
	for rows.Next() {
		var l lattice.Lego
		var seedID, kind, origin string
		var ref sql.NullString
		if err := rows.Scan(&l.ID, &seedID, &kind, &origin, &l.Known, &l.Target, &ref); err != nil {
			rows.Close()
			return nil, err
		}
		l.Kind, l.Origin = lattice.Kind(kind), lattice.Origin(origin)
		if ref.Valid {
			l.RefID = ref.String
		}
		si, ok := idx[seedID]
		if !ok {
			rows.Close()
			return nil, fmt.Errorf("lego %s belongs to unknown seed %s", l.ID, seedID)
		}
		where[l.ID] = at{si, len(seeds[si].Legos)}
		seeds[si].Legos = append(seeds[si].Legos, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Query(`SELECT lego_id, known_fragment, target_fragment, feeder_id FROM lego_components ORDER BY lego_id, ord`)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var legoID string
		var c lattice.Component
		var feeder sql.NullString
		if err := rows.Scan(&legoID, &c.Known, &c.Target, &feeder); err != nil {
			return nil, err
		}
		if feeder.Valid {
			c.FeederID = feeder.String
		}
		w, ok := where[legoID]
		if !ok {
			return nil, fmt.Errorf("component of unknown lego %s", legoID)
		}
		l := &seeds[w.seed].Legos[w.seq]
		l.Components = append(l.Components, c)
	}
	return seeds, rows.Err()
}

// ListBatches returns the committed batches in version order.
func ListBatches(db DBExecutor) ([]Batch, error) {
	rows, err := db.Query(`SELECT id, version, seed_count, new_legos, reference_legos, committed_at FROM merge_batches ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.Version, &b.Seeds, &b.NewLegos, &b.References, &b.CommittedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// SaveBasket replaces the stored basket for b.LegoID.
func SaveBasket(db DBExecutor, version int, b *basket.Basket) error {
	dist, err := json.Marshal(b.Distribution)
	if err != nil {
		return fmt.Errorf("encode distribution: %w", err)
	}
	if _, err := db.Exec(`DELETE FROM basket_phrases WHERE lego_id = ?`, b.LegoID); err != nil {
		return err
	}
	if _, err := db.Exec(`DELETE FROM baskets WHERE lego_id = ?`, b.LegoID); err != nil {
		return err
	}
	if _, err := db.Exec(
		`INSERT INTO baskets (lego_id, registry_version, known_text, target_text, distribution, generated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.LegoID, version, b.Lego.Known, b.Lego.Target, string(dist), time.Now().UTC(),
	); err != nil {
		return wrapInsert("basket "+b.LegoID, err)
	}
	for slot, p := range b.Phrases {
		if _, err := db.Exec(
			`INSERT INTO basket_phrases (lego_id, slot, known_text, target_text, pattern_tag, lego_count) VALUES (?, ?, ?, ?, ?, ?)`,
			b.LegoID, slot, p.Known, p.Target, nullableString(p.Tag), p.LegoCount,
		); err != nil {
			return wrapInsert(fmt.Sprintf("phrase %s/%d", b.LegoID, slot), err)
		}
	}
	return nil
}

// LoadBaskets returns stored baskets in registry order.
func LoadBaskets(db DBExecutor) ([]*basket.Basket, error) {
	rows, err := db.Query(`SELECT b.lego_id, b.known_text, b.target_text, b.distribution
		FROM baskets b JOIN legos l ON l.id = b.lego_id JOIN seeds s ON s.id = l.seed_id
		ORDER BY s.position, l.seq`)
	if err != nil {
		return nil, fmt.Errorf("query baskets: %w", err)
	}
	var out []*basket.Basket
	byID := map[string]*basket.Basket{}
	for rows.Next() {
		b := &basket.Basket{}
		var dist string
		if err := rows.Scan(&b.LegoID, &b.Lego.Known, &b.Lego.Target, &dist); err != nil {
			rows.Close()
			return nil, err
		}
		if err := json.Unmarshal([]byte(dist), &b.Distribution); err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode distribution of %s: %w", b.LegoID, err)
		}
		byID[b.LegoID] = b
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = db.Query(`SELECT lego_id, known_text, target_text, pattern_tag, lego_count FROM basket_phrases ORDER BY lego_id, slot`)
	if err != nil {
		return nil, fmt.Errorf("query phrases: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var p basket.Phrase
		var tag sql.NullString
		if err := rows.Scan(&id, &p.Known, &p.Target, &tag, &p.LegoCount); err != nil {
			return nil, err
		}
		if tag.Valid {
			p.Tag = tag.String
		}
		if b, ok := byID[id]; ok {
			b.Phrases = append(b.Phrases, p)
		}
	}
	return out, rows.Err()
}

// ClearBaskets drops every stored basket. Baskets are derived data and are
// rebuilt after the registry changes.
func ClearBaskets(db DBExecutor) error {
	if _, err := db.Exec(`DELETE FROM basket_phrases`); err != nil {
		return err
	}
	_, err := db.Exec(`DELETE FROM baskets`)
	return err
}

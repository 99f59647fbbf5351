// Package basket generates the fixed-size practice phrase sets attached to each
// committed LEGO.
package basket

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/japaniel/coursegen/pkg/lattice"
)

// ErrUnderfilled matches every *Underfilled via errors.Is.
var ErrUnderfilled = errors.New("basket underfilled")

// Phrase is one practice phrase. It is persisted as the tuple
// [known_text, target_text, pattern_tag|null, lego_count].
type Phrase struct {
	Known     string
	Target    string
	Tag       string
	LegoCount int
}

func (p Phrase) MarshalJSON() ([]byte, error) {
	var tag any
	if p.Tag != "" {
		tag = p.Tag
	}
	return json.Marshal([]any{p.Known, p.Target, tag, p.LegoCount})
}

func (p *Phrase) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 4 {
		return fmt.Errorf("phrase tuple has %d elements, want 4", len(raw))
	}
	var tag *string
	if err := json.Unmarshal(raw[0], &p.Known); err != nil {
		return fmt.Errorf("phrase known: %w", err)
	}
	if err := json.Unmarshal(raw[1], &p.Target); err != nil {
		return fmt.Errorf("phrase target: %w", err)
	}
	if err := json.Unmarshal(raw[2], &tag); err != nil {
		return fmt.Errorf("phrase tag: %w", err)
	}
	if err := json.Unmarshal(raw[3], &p.LegoCount); err != nil {
		return fmt.Errorf("phrase lego_count: %w", err)
	}
	p.Tag = ""
	if tag != nil {
		p.Tag = *tag
	}
	return nil
}

// Slot tags with fixed meaning.
const (
	TagSeed    = "seed"
	TagWindow  = "window"
	TagPadding = "padding"
)

// BucketCount summarizes one length bucket of a basket.
type BucketCount struct {
	Name   string `json:"name"`
	Quota  int    `json:"quota"`
	Filled int    `json:"filled"`
	Padded int    `json:"padded"`
}

// Basket is the practice set for one LEGO. Phrases are stored bucket by
// bucket, in configured bucket order, each bucket holding exactly its quota.
type Basket struct {
	LegoID       string        `json:"lego_id"`
	Lego         lattice.Pair  `json:"lego"`
	Phrases      []Phrase      `json:"phrases"`
	Distribution []BucketCount `json:"distribution"`

	// Rejected counts candidates discarded by the GATE check.
	Rejected int `json:"-"`
}

// Err returns an *Underfilled when any bucket had to be padded.
func (b *Basket) Err() error {
	var short []BucketCount
	for _, d := range b.Distribution {
		if d.Padded > 0 {
			short = append(short, d)
		}
	}
	if len(short) == 0 {
		return nil
	}
	return &Underfilled{LegoID: b.LegoID, Buckets: short}
}

// Bucket returns the phrases of the named bucket.
func (b *Basket) Bucket(name string) []Phrase {
	off := 0
	for _, d := range b.Distribution {
		if d.Name == name {
			return b.Phrases[off : off+d.Quota]
		}
		off += d.Quota
	}
	return nil
}

// Final returns the phrase in the last slot.
func (b *Basket) Final() Phrase {
	if len(b.Phrases) == 0 {
		return Phrase{}
	}
	return b.Phrases[len(b.Phrases)-1]
}

// Underfilled reports buckets that combinatorial search could not fill.
type Underfilled struct {
	LegoID  string
	Buckets []BucketCount
}

func (u *Underfilled) Error() string {
	parts := make([]string, len(u.Buckets))
	for i, b := range u.Buckets {
		parts[i] = fmt.Sprintf("%s %d/%d", b.Name, b.Filled, b.Quota)
	}
	return fmt.Sprintf("basket %s underfilled: %s", u.LegoID, strings.Join(parts, ", "))
}

// Is reports ErrUnderfilled.
func (u *Underfilled) Is(target error) bool { return target == ErrUnderfilled }

package lattice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Document is the persisted form of a registry: seeds in position order, each
// carrying its LEGOs in sequence order.
type Document struct {
	Seeds []Seed `json:"seeds"`
}

// Encode writes the persisted form of the snapshot. Stored text is written
// exactly as committed; Decode followed by Encode yields identical bytes.
func Encode(w io.Writer, s *Snapshot) error {
	return EncodeSeeds(w, s.Seeds())
}

// EncodeSeeds writes seeds in the persisted form.
func EncodeSeeds(w io.Writer, seeds []Seed) error {
	doc := Document{Seeds: seeds}
	if doc.Seeds == nil {
		doc.Seeds = []Seed{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Decode reads the persisted form.
func Decode(r io.Reader) ([]Seed, error) {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return doc.Seeds, nil
}

// LoadFile decodes a persisted registry file.
func LoadFile(path string) ([]Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// ReadSeedInputs reads the external translation step's output: a JSON array of
// {position, known_text, target_text} records.
func ReadSeedInputs(r io.Reader) ([]SeedInput, error) {
	var in []SeedInput
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("decode seeds: %w", err)
	}
	return in, nil
}

package storage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Snapshot persistence. The on-disk form is a single gob value so a dataset
// can be captured once (for example by the CLI after a CSV import) and shared
// between runs and tests. Identity and creation time travel with the tables.

type diskColumn struct {
	Name       string
	Type       ColType
	Constraint ConstraintType
	ForeignKey *ForeignKeyRef
}

type diskTable struct {
	Name string
	Cols []diskColumn
	Rows [][]any
}

type diskSnapshot struct {
	ID      string
	TakenAt time.Time
	Tables  []diskTable
}

func tableToDisk(t *Table) diskTable {
	dt := diskTable{
		Name: t.Name,
		Cols: make([]diskColumn, len(t.Cols)),
		Rows: make([][]any, len(t.Rows)),
	}
	for i, c := range t.Cols {
		dt.Cols[i] = diskColumn{
			Name:       c.Name,
			Type:       c.Type,
			Constraint: c.Constraint,
			ForeignKey: c.ForeignKey,
		}
	}
	for i, r := range t.Rows {
		row := make([]any, len(r))
		copy(row, r)
		dt.Rows[i] = row
	}
	return dt
}

func diskToTable(dt diskTable) *Table {
	cols := make([]Column, len(dt.Cols))
	for i, c := range dt.Cols {
		cols[i] = Column{
			Name:       c.Name,
			Type:       c.Type,
			Constraint: c.Constraint,
			ForeignKey: c.ForeignKey,
		}
	}
	t := NewTable(dt.Name, cols)
	t.Rows = make([][]any, len(dt.Rows))
	for ri, r := range dt.Rows {
		row := make([]any, len(r))
		for ci, v := range r {
			if ci >= len(cols) {
				break // skip extra values beyond schema
			}
			row[ci] = v
		}
		t.Rows[ri] = row
	}
	return t
}

// toDisk expects the caller to hold s.mu.
func (s *Snapshot) toDisk() diskSnapshot {
	dump := diskSnapshot{
		ID:      s.id.String(),
		TakenAt: s.takenAt,
		Tables:  make([]diskTable, 0, len(s.tables)),
	}
	names := make([]string, 0, len(s.tables))
	for k := range s.tables {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, n := range names {
		dump.Tables = append(dump.Tables, tableToDisk(s.tables[n]))
	}
	return dump
}

func fromDisk(dump diskSnapshot) (*Snapshot, error) {
	id, err := uuid.Parse(dump.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot has invalid id %q: %w", dump.ID, err)
	}
	s := NewSnapshot()
	s.id = id
	s.takenAt = dump.TakenAt
	for _, dt := range dump.Tables {
		if err := s.Put(diskToTable(dt)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SaveToFile writes the snapshot to a file. If the filename ends with .gz,
// the snapshot is gzip-compressed to reduce size.
func SaveToFile(s *Snapshot, filename string) error {
	s.mu.RLock()
	dump := s.toDisk()
	s.mu.RUnlock()

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	var w io.Writer = bw
	var gz *gzip.Writer
	if strings.HasSuffix(strings.ToLower(filename), ".gz") {
		gz = gzip.NewWriter(w)
		w = gz
	}
	if err := gob.NewEncoder(w).Encode(dump); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadFromFile loads a snapshot from a file, auto-detecting gzip compression
// by the .gz suffix. A missing file is an error here: a reader asking for a
// dataset that does not exist is a configuration problem, not an empty store.
func LoadFromFile(filename string) (*Snapshot, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(strings.ToLower(filename), ".gz") {
		gr, gzErr := gzip.NewReader(r)
		if gzErr != nil {
			return nil, gzErr
		}
		defer gr.Close()
		r = gr
	}
	return load(r)
}

// SaveToWriter writes the snapshot to an arbitrary writer, uncompressed.
func SaveToWriter(s *Snapshot, w io.Writer) error {
	s.mu.RLock()
	dump := s.toDisk()
	s.mu.RUnlock()
	bw := bufio.NewWriter(w)
	if err := gob.NewEncoder(bw).Encode(dump); err != nil {
		return err
	}
	return bw.Flush()
}

// LoadFromReader loads a snapshot from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Snapshot, error) {
	return load(bufio.NewReader(r))
}

// SaveToBytes serializes the snapshot to a byte slice.
func SaveToBytes(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := SaveToWriter(s, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadFromBytes loads a snapshot from a byte slice.
func LoadFromBytes(b []byte) (*Snapshot, error) {
	return LoadFromReader(bytes.NewReader(b))
}

func load(r io.Reader) (*Snapshot, error) {
	var dump diskSnapshot
	if err := gob.NewDecoder(r).Decode(&dump); err != nil {
		return nil, err
	}
	return fromDisk(dump)
}

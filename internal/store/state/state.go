// Package state persists what a live runner needs to resume after a
// restart: the open position per symbol, trailing stop progress, the signal
// generator's carried values and the account peak for the drawdown breaker.
package state

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"mtfsignal/internal/market"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/strategy"
)

const CurrentVersion = 1

//go:embed schema.json
var schemaJSON []byte

// SymbolState is the resumable state of one instrument's pipeline.
type SymbolState struct {
	Direction         strategy.Direction `json:"direction"`
	EntryPrice        float64            `json:"entry_price"`
	InTrailingZone    bool               `json:"in_trailing_zone"`
	TrailingPeakPrice float64            `json:"trailing_peak_price"`
	Position          *risk.Position     `json:"position"`
	Generator         strategy.Snapshot  `json:"generator"`
	LastCycle         time.Time          `json:"last_cycle"`
}

// Flat reports whether no position is recorded.
func (s SymbolState) Flat() bool {
	return s.Position == nil
}

// SetPosition records p as open, or clears the position when p is nil.
func (s *SymbolState) SetPosition(p *risk.Position) {
	s.Position = p
	if p == nil {
		s.Direction = strategy.DirectionNone
		s.EntryPrice = 0
		s.InTrailingZone = false
		s.TrailingPeakPrice = 0
		return
	}
	if p.Side == market.SideShort {
		s.Direction = strategy.DirectionShort
	} else {
		s.Direction = strategy.DirectionLong
	}
	s.EntryPrice = p.EntryPrice
	s.InTrailingZone = p.TrailingActive
	s.TrailingPeakPrice = p.PeakPrice
}

type Account struct {
	Balance    float64 `json:"balance"`
	PeakEquity float64 `json:"peak_equity"`
}

type Document struct {
	Version   int                    `json:"version"`
	UpdatedAt time.Time              `json:"updated_at"`
	Account   Account                `json:"account"`
	Symbols   map[string]SymbolState `json:"symbols"`
}

func NewDocument() Document {
	return Document{Version: CurrentVersion, Symbols: make(map[string]SymbolState)}
}

// Symbol returns the state for name, flat when none is recorded.
func (d Document) Symbol(name string) SymbolState {
	if s, ok := d.Symbols[name]; ok {
		return s
	}
	return SymbolState{Direction: strategy.DirectionNone}
}

// Store reads and writes one state file. Writes go to a temp file in the
// same directory which is synced and renamed over the target, so a crash
// leaves either the old or the new document.
type Store struct {
	path   string
	schema *jsonschema.Schema
	mu     sync.Mutex
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile state schema: %w", err)
	}
	return &Store{path: path, schema: schema}, nil
}

func (s *Store) Path() string { return s.path }

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// Load returns the stored document, or an empty one when the file does not
// exist yet.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Document, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("read state: %w", err)
	}
	if err := s.validate(raw); err != nil {
		return Document{}, fmt.Errorf("state %s: %w", s.path, err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode state: %w", err)
	}
	if doc.Version > CurrentVersion {
		return Document{}, fmt.Errorf("state version %d is newer than supported %d", doc.Version, CurrentVersion)
	}
	if doc.Symbols == nil {
		doc.Symbols = make(map[string]SymbolState)
	}
	return doc, nil
}

func (s *Store) validate(raw []byte) error {
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if err := s.schema.Validate(generic); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}
	return nil
}

// Save validates doc and replaces the file atomically.
func (s *Store) Save(doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(doc)
}

func (s *Store) saveLocked(doc Document) error {
	if doc.Version == 0 {
		doc.Version = CurrentVersion
	}
	if doc.Symbols == nil {
		doc.Symbols = make(map[string]SymbolState)
	}
	for name, st := range doc.Symbols {
		if st.Direction == "" {
			st.Direction = strategy.DirectionNone
			doc.Symbols[name] = st
		}
	}
	doc.UpdatedAt = time.Now().UTC()
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.validate(raw); err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Update loads the document, applies fn and saves the result. Pipelines of
// different symbols share one file through Update.
func (s *Store) Update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return s.saveLocked(doc)
}

// PutSymbol replaces one symbol's state.
func (s *Store) PutSymbol(name string, st SymbolState) error {
	return s.Update(func(d *Document) error {
		d.Symbols[name] = st
		return nil
	})
}

package strategy

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed variants.yaml
var builtinVariants []byte

// Variant is a named preset over Params. Nil fields leave Params untouched.
type Variant struct {
	Name                    string   `yaml:"-"`
	Description             string   `yaml:"description"`
	Oversold                *float64 `yaml:"oversold"`
	Overbought              *float64 `yaml:"overbought"`
	RelaxedLongK            *float64 `yaml:"relaxed_long_k"`
	RelaxedShortK           *float64 `yaml:"relaxed_short_k"`
	MinCandlesBetweenTrades *int     `yaml:"min_candles_between_trades"`
}

type variantFile struct {
	Variants map[string]Variant `yaml:"variants"`
}

// Apply copies the preset's fields into p.
func (v Variant) Apply(p Params) Params {
	if v.Oversold != nil {
		p.Oversold = *v.Oversold
	}
	if v.Overbought != nil {
		p.Overbought = *v.Overbought
	}
	if v.RelaxedLongK != nil {
		p.RelaxedLongK = *v.RelaxedLongK
	}
	if v.RelaxedShortK != nil {
		p.RelaxedShortK = *v.RelaxedShortK
	}
	if v.MinCandlesBetweenTrades != nil {
		p.MinCandlesBetweenTrades = *v.MinCandlesBetweenTrades
	}
	return p
}

// Variants is a set of presets keyed by lower-case name.
type Variants map[string]Variant

// BuiltinVariants returns the presets shipped with the binary.
func BuiltinVariants() Variants {
	vs, err := ParseVariants(bytes.NewReader(builtinVariants))
	if err != nil {
		panic(fmt.Sprintf("builtin variants: %v", err))
	}
	return vs
}

// ParseVariants decodes a variants document, rejecting unknown keys.
func ParseVariants(r io.Reader) (Variants, error) {
	var file variantFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("parse variants failed: %w", err)
	}
	out := make(Variants, len(file.Variants))
	for name, v := range file.Variants {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("variant with empty name")
		}
		v.Name = key
		out[key] = v
	}
	return out, nil
}

// LoadVariants reads a variants file and layers it over the built-in set.
func LoadVariants(path string) (Variants, error) {
	vs := BuiltinVariants()
	if strings.TrimSpace(path) == "" {
		return vs, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read variants failed: %w", err)
	}
	extra, err := ParseVariants(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	for k, v := range extra {
		vs[k] = v
	}
	return vs, nil
}

func (vs Variants) Get(name string) (Variant, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	v, ok := vs[key]
	if !ok {
		return Variant{}, fmt.Errorf("unknown strategy variant %q (have %s)", name, strings.Join(vs.Names(), ", "))
	}
	return v, nil
}

func (vs Variants) Names() []string {
	out := make([]string, 0, len(vs))
	for k := range vs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

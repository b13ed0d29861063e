// Package catalog holds the static reference data a generation request is
// validated and priced against: models, styles, colors and sizes.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidParameters = errors.New("invalid generation parameters")

type Model struct {
	ID        string `yaml:"id" json:"id"`
	Name      string `yaml:"name" json:"name"`
	ImageHost string `yaml:"image_host" json:"-"`
}

type Option struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Size is an output resolution and what it costs.
type Size struct {
	ID          string `yaml:"id" json:"id"`
	Width       int    `yaml:"width" json:"width"`
	Height      int    `yaml:"height" json:"height"`
	AspectRatio string `yaml:"aspect_ratio" json:"aspect_ratio"`
	Credits     int    `yaml:"credits" json:"credits"`
}

type Catalog struct {
	Models []Model  `yaml:"models" json:"models"`
	Styles []Option `yaml:"styles" json:"styles"`
	Colors []Option `yaml:"colors" json:"colors"`
	Sizes  []Size   `yaml:"sizes" json:"sizes"`
}

// Selection is the user-chosen combination, in canonical ids once resolved.
type Selection struct {
	Model string
	Style string
	Color string
	Size  string
}

func Default() *Catalog {
	return &Catalog{
		Models: []Model{
			{ID: "model_a", Name: "Model A", ImageHost: "https://placeholder-images-model-a.example.com"},
			{ID: "model_b", Name: "Model B", ImageHost: "https://placeholder-images-model-b.example.com"},
		},
		Styles: []Option{
			{ID: "realistic", Name: "Realistic"},
			{ID: "anime", Name: "Anime"},
			{ID: "oil_painting", Name: "Oil Painting"},
			{ID: "sketch", Name: "Sketch"},
			{ID: "cyberpunk", Name: "Cyberpunk"},
			{ID: "watercolor", Name: "Watercolor"},
		},
		Colors: []Option{
			{ID: "vibrant", Name: "Vibrant"},
			{ID: "monochrome", Name: "Monochrome"},
			{ID: "pastel", Name: "Pastel"},
			{ID: "neon", Name: "Neon"},
			{ID: "vintage", Name: "Vintage"},
		},
		Sizes: []Size{
			{ID: "512x512", Width: 512, Height: 512, AspectRatio: "1:1", Credits: 1},
			{ID: "1024x1024", Width: 1024, Height: 1024, AspectRatio: "1:1", Credits: 3},
			{ID: "1024x1792", Width: 1024, Height: 1792, AspectRatio: "9:16", Credits: 4},
		},
	}
}

// Validate checks ids are present and unique and every size has a positive cost.
func (c *Catalog) Validate() error {
	if len(c.Models) == 0 || len(c.Styles) == 0 || len(c.Colors) == 0 || len(c.Sizes) == 0 {
		return fmt.Errorf("catalog: models, styles, colors and sizes must all be non-empty")
	}
	seen := map[string]bool{}
	check := func(kind, id string) error {
		if id == "" {
			return fmt.Errorf("catalog: %s with empty id", kind)
		}
		if seen[kind+"/"+id] {
			return fmt.Errorf("catalog: duplicate %s %q", kind, id)
		}
		seen[kind+"/"+id] = true
		return nil
	}
	for _, m := range c.Models {
		if err := check("model", m.ID); err != nil {
			return err
		}
		if m.ImageHost == "" {
			return fmt.Errorf("catalog: model %q: image_host is required", m.ID)
		}
	}
	for _, o := range c.Styles {
		if err := check("style", o.ID); err != nil {
			return err
		}
	}
	for _, o := range c.Colors {
		if err := check("color", o.ID); err != nil {
			return err
		}
	}
	for _, s := range c.Sizes {
		if err := check("size", s.ID); err != nil {
			return err
		}
		if s.Credits <= 0 {
			return fmt.Errorf("catalog: size %q: credits must be positive", s.ID)
		}
	}
	return nil
}

// Resolve maps a selection given by id or display name ("Model A",
// "oil painting") onto canonical ids and returns the size's pricing.
func (c *Catalog) Resolve(sel Selection) (Selection, Size, error) {
	var out Selection
	var ok bool

	for _, m := range c.Models {
		if matches(sel.Model, m.ID, m.Name) {
			out.Model, ok = m.ID, true
			break
		}
	}
	if !ok {
		return Selection{}, Size{}, fmt.Errorf("%w: unknown model %q", ErrInvalidParameters, sel.Model)
	}
	if out.Style, ok = resolveOption(c.Styles, sel.Style); !ok {
		return Selection{}, Size{}, fmt.Errorf("%w: unknown style %q", ErrInvalidParameters, sel.Style)
	}
	if out.Color, ok = resolveOption(c.Colors, sel.Color); !ok {
		return Selection{}, Size{}, fmt.Errorf("%w: unknown color %q", ErrInvalidParameters, sel.Color)
	}
	for _, s := range c.Sizes {
		if matches(sel.Size, s.ID, "") {
			out.Size = s.ID
			return out, s, nil
		}
	}
	return Selection{}, Size{}, fmt.Errorf("%w: unknown size %q", ErrInvalidParameters, sel.Size)
}

// Model returns the model with the given canonical id.
func (c *Catalog) Model(id string) (Model, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

func resolveOption(opts []Option, v string) (string, bool) {
	for _, o := range opts {
		if matches(v, o.ID, o.Name) {
			return o.ID, true
		}
	}
	return "", false
}

func matches(v, id, name string) bool {
	n := normalize(v)
	if n == "" {
		return false
	}
	return n == normalize(id) || (name != "" && n == normalize(name))
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

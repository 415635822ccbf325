// Package catalog holds the immutable reference data: the surahs a child can
// memorize and the step-by-step practice guides.
//
// The default catalog is embedded in the binary. Alternative catalogs can be
// parsed with [Load], which applies the same validation.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownCollection is returned when a collection id is not in the catalog.
	ErrUnknownCollection = errors.New("catalog: unknown collection")

	// ErrUnknownVerse is returned when a verse id is not part of its collection.
	ErrUnknownVerse = errors.New("catalog: unknown verse")

	// ErrUnknownGuide is returned when a guide name is not in the catalog.
	ErrUnknownGuide = errors.New("catalog: unknown guide")
)

//go:embed catalog.yaml
var embedded string

// Verse is a single memorization unit. ID is unique within its collection and
// ascending ids give the memorization order.
type Verse struct {
	ID    int    `yaml:"id"    json:"id"`
	Text  string `yaml:"text"  json:"text"`
	Gloss string `yaml:"gloss" json:"gloss"`
}

// Collection is an ordered group of verses (a surah).
type Collection struct {
	ID          int     `yaml:"id"           json:"id"`
	Name        string  `yaml:"name"         json:"name"`
	EnglishName string  `yaml:"english_name" json:"english_name"`
	FrenchName  string  `yaml:"french_name"  json:"french_name"`
	Verses      []Verse `yaml:"verses"       json:"verses"`
}

// LocalizedName returns the display name for lang: "fr" gives the French
// name, "ar" the Arabic one, anything else the English one.
func (c Collection) LocalizedName(lang string) string {
	switch lang {
	case "fr":
		return c.FrenchName
	case "ar":
		return c.Name
	default:
		return c.EnglishName
	}
}

// Verse returns the verse with the given id.
func (c Collection) Verse(id int) (Verse, bool) {
	for _, v := range c.Verses {
		if v.ID == id {
			return v, true
		}
	}
	return Verse{}, false
}

// Step is one illustrated step of a guide.
type Step struct {
	ID          int    `yaml:"id"          json:"id"`
	Title       string `yaml:"title"       json:"title"`
	Description string `yaml:"description" json:"description"`
	ImageURL    string `yaml:"image_url"   json:"image_url"`
}

type file struct {
	Collections []Collection      `yaml:"collections"`
	Guides      map[string][]Step `yaml:"guides"`
}

// Catalog is a validated, read-only set of collections and guides. Returned
// slices are shared and must not be modified.
type Catalog struct {
	collections []Collection
	byID        map[int]int
	guides      map[string][]Step
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := Load(strings.NewReader(embedded))
	if err != nil {
		panic(err)
	}
	return c
})

// Default returns the embedded catalog.
func Default() *Catalog { return defaultCatalog() }

// Load parses and validates a catalog YAML document. Collections keep their
// document order; verses are sorted by id.
func Load(r io.Reader) (*Catalog, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if err := validate(&f); err != nil {
		return nil, err
	}

	c := &Catalog{
		collections: f.Collections,
		byID:        make(map[int]int, len(f.Collections)),
		guides:      f.Guides,
	}
	for i := range c.collections {
		slices.SortFunc(c.collections[i].Verses, func(a, b Verse) int { return a.ID - b.ID })
		c.byID[c.collections[i].ID] = i
	}
	for name := range c.guides {
		slices.SortFunc(c.guides[name], func(a, b Step) int { return a.ID - b.ID })
	}
	return c, nil
}

func validate(f *file) error {
	var errs []error
	seen := make(map[int]bool, len(f.Collections))
	for i, col := range f.Collections {
		if seen[col.ID] {
			errs = append(errs, fmt.Errorf("catalog: collections[%d]: duplicate id %d", i, col.ID))
		}
		seen[col.ID] = true
		if col.Name == "" && col.EnglishName == "" {
			errs = append(errs, fmt.Errorf("catalog: collection %d: a name is required", col.ID))
		}
		if len(col.Verses) == 0 {
			errs = append(errs, fmt.Errorf("catalog: collection %d: no verses", col.ID))
		}
		verses := make(map[int]bool, len(col.Verses))
		for _, v := range col.Verses {
			if verses[v.ID] {
				errs = append(errs, fmt.Errorf("catalog: collection %d: duplicate verse id %d", col.ID, v.ID))
			}
			verses[v.ID] = true
			if strings.TrimSpace(v.Text) == "" {
				errs = append(errs, fmt.Errorf("catalog: collection %d verse %d: empty text", col.ID, v.ID))
			}
		}
	}
	for name, steps := range f.Guides {
		if len(steps) == 0 {
			errs = append(errs, fmt.Errorf("catalog: guide %q: no steps", name))
		}
	}
	return errors.Join(errs...)
}

// Collections returns every collection in catalog order.
func (c *Catalog) Collections() []Collection {
	return slices.Clone(c.collections)
}

// Collection returns the collection with the given id.
func (c *Catalog) Collection(id int) (Collection, error) {
	i, ok := c.byID[id]
	if !ok {
		return Collection{}, fmt.Errorf("%w: %d", ErrUnknownCollection, id)
	}
	return c.collections[i], nil
}

// Verse returns a single verse of a collection.
func (c *Catalog) Verse(collectionID, verseID int) (Verse, error) {
	col, err := c.Collection(collectionID)
	if err != nil {
		return Verse{}, err
	}
	v, ok := col.Verse(verseID)
	if !ok {
		return Verse{}, fmt.Errorf("%w: %d in collection %d", ErrUnknownVerse, verseID, collectionID)
	}
	return v, nil
}

// Guide returns the ordered steps of the named guide.
func (c *Catalog) Guide(name string) ([]Step, error) {
	steps, ok := c.guides[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGuide, name)
	}
	return steps, nil
}

// Guides returns the guide names in sorted order.
func (c *Catalog) Guides() []string {
	names := make([]string, 0, len(c.guides))
	for name := range c.guides {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

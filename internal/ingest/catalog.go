// Package ingest loads titles into the reelscout catalog: it reads a YAML
// catalog file, extracts dialogue from inline transcripts or SRT subtitles,
// splits it into overlapping word chunks, embeds the chunks in batches and
// writes everything through a [catalog.Writer].
package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/reelscout/pkg/types"
)

// File is the on-disk catalog format.
type File struct {
	Titles []Title `yaml:"titles"`
}

// Title is one catalog entry. Dialogue comes from Transcript, from the SRT
// file named by Subtitles, or both (joined in that order).
type Title struct {
	Kind           types.MediaKind `yaml:"kind"`
	ID             string          `yaml:"id"`
	Title          string          `yaml:"title"`
	Year           int             `yaml:"year"`
	Genres         []string        `yaml:"genres"`
	Overview       string          `yaml:"overview"`
	PosterURL      string          `yaml:"poster_url"`
	Rating         float64         `yaml:"rating"`
	RuntimeMinutes int             `yaml:"runtime_minutes"`
	Cast           []CastEntry     `yaml:"cast"`

	// Transcript is inline dialogue text.
	Transcript string `yaml:"transcript"`

	// Subtitles is an SRT file path, relative to the catalog file.
	Subtitles string `yaml:"subtitles"`
}

// CastEntry is one billed cast member. A zero Rank takes the list position.
type CastEntry struct {
	Name      string `yaml:"name"`
	Character string `yaml:"character"`
	Rank      int    `yaml:"rank"`
}

// MediaID returns the catalog id of t.
func (t Title) MediaID() types.MediaID {
	return types.MediaID{Kind: t.Kind, ID: t.ID}
}

// Record converts t into the catalog's media record.
func (t Title) Record() types.MediaRecord {
	cast := make([]types.CastMember, len(t.Cast))
	for i, c := range t.Cast {
		rank := c.Rank
		if rank <= 0 {
			rank = i + 1
		}
		cast[i] = types.CastMember{Name: c.Name, Character: c.Character, Rank: rank}
	}
	return types.MediaRecord{
		ID:             t.MediaID(),
		Title:          t.Title,
		Year:           t.Year,
		Genres:         t.Genres,
		Overview:       t.Overview,
		PosterURL:      t.PosterURL,
		Rating:         t.Rating,
		RuntimeMinutes: t.RuntimeMinutes,
		Cast:           cast,
	}
}

// LoadFile reads and validates the catalog file at path. Subtitle paths are
// resolved against the file's directory.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ingest: open %q: %w", path, err)
	}
	defer f.Close()

	file, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("ingest: parse %q: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range file.Titles {
		if s := file.Titles[i].Subtitles; s != "" && !filepath.IsAbs(s) {
			file.Titles[i].Subtitles = filepath.Join(dir, s)
		}
	}
	return file, nil
}

// Decode decodes and validates a catalog file from r.
func Decode(r io.Reader) (*File, error) {
	file := &File{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return file, nil
}

// Validate returns a joined error listing every invalid entry.
func (f *File) Validate() error {
	var errs []error
	seen := make(map[types.MediaID]int, len(f.Titles))
	for i, t := range f.Titles {
		if !t.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("titles[%d].kind %q is invalid; valid values: movie, tv", i, t.Kind))
		}
		if strings.TrimSpace(t.ID) == "" {
			errs = append(errs, fmt.Errorf("titles[%d].id is required", i))
		}
		if strings.TrimSpace(t.Title) == "" {
			errs = append(errs, fmt.Errorf("titles[%d].title is required", i))
		}
		if t.Transcript == "" && t.Subtitles == "" {
			errs = append(errs, fmt.Errorf("titles[%d] needs a transcript or subtitles", i))
		}
		for j, c := range t.Cast {
			if strings.TrimSpace(c.Name) == "" {
				errs = append(errs, fmt.Errorf("titles[%d].cast[%d].name is required", i, j))
			}
		}
		if prev, dup := seen[t.MediaID()]; dup {
			errs = append(errs, fmt.Errorf("titles[%d] duplicates titles[%d] (%s)", i, prev, t.MediaID()))
		} else {
			seen[t.MediaID()] = i
		}
	}
	return errors.Join(errs...)
}

// Dialogue returns the full dialogue text of t, reading its subtitle file
// if one is set.
func (t Title) Dialogue() (string, error) {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(t.Transcript); s != "" {
		parts = append(parts, s)
	}
	if t.Subtitles != "" {
		raw, err := os.ReadFile(t.Subtitles)
		if err != nil {
			return "", fmt.Errorf("ingest: read subtitles for %s: %w", t.MediaID(), err)
		}
		if s := PlainText(raw); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " "), nil
}

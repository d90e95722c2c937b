package scripts

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gutoaeraphe/roteirista-pro-app-sub000/analysis"
)

var (
	ErrNotFound     = errors.New("script not found")
	ErrInvalidInput = errors.New("invalid script")
)

type Format string

const (
	Feature Format = "feature"
	Short   Format = "short"
	Series  Format = "series"
	Other   Format = "other"
)

func (f Format) Valid() bool {
	switch f {
	case Feature, Short, Series, Other:
		return true
	}
	return false
}

// Script is a user's screenplay plus the last successful result of each
// analysis kind run against it.
type Script struct {
	ID              string                            `json:"id"`
	UserID          string                            `json:"user_id"`
	Name            string                            `json:"name"`
	Format          Format                            `json:"format"`
	Genre           string                            `json:"genre"`
	Content         string                            `json:"content"`
	AnalysisResults map[analysis.Kind]json.RawMessage `json:"analysis_results"`
	CreatedAt       time.Time                         `json:"created_at"`
	UpdatedAt       time.Time                         `json:"updated_at"`
}

type Metadata struct {
	Name   string `json:"name"`
	Format Format `json:"format"`
	Genre  string `json:"genre"`
}

// Patch is a partial update. Nil fields are left as they are.
type Patch struct {
	Name    *string      `json:"name,omitempty"`
	Format  *Format      `json:"format,omitempty"`
	Genre   *string      `json:"genre,omitempty"`
	Content *string      `json:"content,omitempty"`
	Result  *ResultPatch `json:"-"`
}

// ResultPatch overwrites one analysis slot.
type ResultPatch struct {
	Kind    analysis.Kind
	Payload json.RawMessage
}

func (p Patch) empty() bool {
	return p.Name == nil && p.Format == nil && p.Genre == nil && p.Content == nil && p.Result == nil
}

const (
	maxName    = 255
	maxContent = 600000
)

func (m Metadata) validate() error {
	if m.Name == "" || len(m.Name) > maxName {
		return errors.New("name is required and must be at most 255 bytes")
	}
	if !m.Format.Valid() {
		return errors.New("format must be one of feature, short, series, other")
	}
	if len(m.Genre) > maxName {
		return errors.New("genre must be at most 255 bytes")
	}
	return nil
}

func (p Patch) validate() error {
	if p.empty() {
		return errors.New("nothing to update")
	}
	if p.Name != nil && (*p.Name == "" || len(*p.Name) > maxName) {
		return errors.New("name must be 1 to 255 bytes")
	}
	if p.Format != nil && !p.Format.Valid() {
		return errors.New("format must be one of feature, short, series, other")
	}
	if p.Genre != nil && len(*p.Genre) > maxName {
		return errors.New("genre must be at most 255 bytes")
	}
	if p.Content != nil && len(*p.Content) > maxContent {
		return errors.New("content is too long")
	}
	if p.Result != nil {
		if _, ok := analysis.Lookup(p.Result.Kind); !ok {
			return errors.New("unknown analysis kind")
		}
		if !json.Valid(p.Result.Payload) {
			return errors.New("result payload is not JSON")
		}
	}
	return nil
}

// apply copies the patch onto s in memory.
func (p Patch) apply(s *Script, at time.Time) {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Format != nil {
		s.Format = *p.Format
	}
	if p.Genre != nil {
		s.Genre = *p.Genre
	}
	if p.Content != nil {
		s.Content = *p.Content
	}
	if p.Result != nil {
		if s.AnalysisResults == nil {
			s.AnalysisResults = map[analysis.Kind]json.RawMessage{}
		}
		s.AnalysisResults[p.Result.Kind] = p.Result.Payload
	}
	s.UpdatedAt = at
}

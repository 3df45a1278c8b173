package models

import "time"

// Asset points at the original input of a source. At most one field is set; both are empty
// for pasted text.
type Asset struct {
	FilePath string `json:"file_path,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Source is a persisted unit of ingested content.
type Source struct {
	ID        string                 `json:"id" db:"id"`
	Asset     Asset                  `json:"asset" db:"-"`
	Title     string                 `json:"title" db:"title"`
	Topics    []string               `json:"topics" db:"topics"`
	FullText  string                 `json:"full_text" db:"full_text"`
	Metadata  map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// Insight is the output of one transformation applied to one source.
type Insight struct {
	ID        string    `json:"id" db:"id"`
	SourceID  string    `json:"source_id" db:"source_id"`
	Type      string    `json:"insight_type" db:"insight_type"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Transformation is a named prompt template. Title doubles as the insight type label.
type Transformation struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Title        string    `json:"title" db:"title"`
	Description  string    `json:"description,omitempty" db:"description"`
	Prompt       string    `json:"prompt" db:"prompt"`
	ApplyDefault bool      `json:"apply_default" db:"apply_default"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// EmbeddingChunk is one embedded segment of a source's full text.
type EmbeddingChunk struct {
	ID         string    `json:"id" db:"id"`
	SourceID   string    `json:"source_id" db:"source_id"`
	Position   int       `json:"position" db:"position"`
	Content    string    `json:"content" db:"content"`
	TokenCount int       `json:"token_count" db:"token_count"`
	Embedding  []float32 `json:"-" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FromState builds a new Source from a finished pipeline run.
func FromState(id string, state *ContentState, now time.Time) *Source {
	src := &Source{
		ID:        id,
		Title:     state.Title,
		FullText:  state.Content,
		Topics:    []string{},
		Metadata:  state.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch state.SourceType {
	case SourceTypeFile:
		src.Asset.FilePath = state.FilePath
		if state.RemoteObject != "" {
			src.Asset.FilePath = state.RemoteObject
		}
	case SourceTypeURL:
		src.Asset.URL = state.URL
	}
	return src
}

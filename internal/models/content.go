// Package models defines core data structures for sources, insights, transformations and the
// transient state threaded through the ingestion pipeline.
package models

// SourceType is the coarse kind of an ingestion input.
type SourceType string

const (
	SourceTypeText SourceType = "text"
	SourceTypeFile SourceType = "file"
	SourceTypeURL  SourceType = "url"
)

// URL kinds assigned to IdentifiedType for url sources.
const (
	URLKindYouTube = "youtube"
	URLKindArticle = "article"
)

// ContentState is the working record for one pipeline run. Each stage fills in more of it;
// it is discarded once a Source has been persisted from it.
type ContentState struct {
	Content        string                 `json:"content,omitempty"`
	FilePath       string                 `json:"file_path,omitempty"`
	URL            string                 `json:"url,omitempty"`
	Title          string                 `json:"title,omitempty"`
	SourceType     SourceType             `json:"source_type,omitempty"`
	IdentifiedType string                 `json:"identified_type,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	DeleteSource   bool                   `json:"delete_source,omitempty"`

	// RemoteObject is set when FilePath was staged from object storage.
	RemoteObject string `json:"-"`
}

// NewContentState builds the initial state for a request.
func NewContentState(req *IngestRequest) *ContentState {
	return &ContentState{
		Content:      req.Content,
		FilePath:     req.FilePath,
		URL:          req.URL,
		DeleteSource: req.DeleteSource,
		Metadata:     map[string]interface{}{},
	}
}

// SetMeta records a metadata value, allocating the map on first use.
func (s *ContentState) SetMeta(key string, value interface{}) {
	if s.Metadata == nil {
		s.Metadata = map[string]interface{}{}
	}
	s.Metadata[key] = value
}

// MergeMeta copies all entries of m into the state's metadata.
func (s *ContentState) MergeMeta(m map[string]interface{}) {
	for k, v := range m {
		s.SetMeta(k, v)
	}
}

// IngestRequest is one ingestion request. Exactly one of Content, FilePath and URL must be set.
type IngestRequest struct {
	Content      string `json:"content,omitempty"`
	FilePath     string `json:"file_path,omitempty"`
	URL          string `json:"url,omitempty"`
	DeleteSource bool   `json:"delete_source,omitempty"`
	// SourceID fixes the stored ID. An existing source with the same ID is replaced once the
	// new extraction succeeds.
	SourceID string `json:"source_id,omitempty"`

	Title             string   `json:"title,omitempty"`
	NotebookID        string   `json:"notebook_id,omitempty"`
	Embed             bool     `json:"embed,omitempty"`
	TransformationIDs []string `json:"transformations,omitempty"`
	ApplyDefaults     bool     `json:"apply_default_transformations,omitempty"`
}

// Validate enforces the single-input rule before anything touches the filesystem or network.
func (r *IngestRequest) Validate() error {
	n := 0
	for _, v := range []string{r.Content, r.FilePath, r.URL} {
		if v != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return NewInvalidInput("no source provided")
	case n > 1:
		return NewInvalidInput("multiple sources provided")
	}
	return nil
}

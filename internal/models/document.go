package models

// Project is the top-level container for source documents and the
// training data derived from them.
type Project struct {
	BaseEntity
	Name        string `json:"name"`
	Description string `json:"description"`
}

// File is an ingested source document
type File struct {
	BaseEntity
	ProjectID string `json:"project_id"`
	Name      string `json:"file_name"`
	Ext       string `json:"file_ext"`
	Size      int    `json:"size"`
	Content   string `json:"content"`
}

// FilePair is a chunk of a source file with a stable index. The question
// id list starts empty and is filled as questions are generated against
// the chunk.
type FilePair struct {
	BaseEntity
	ProjectID      string   `json:"project_id"`
	FileID         string   `json:"file_id"`
	Name           string   `json:"name"`
	Content        string   `json:"content"`
	Summary        string   `json:"summary"`
	Size           int      `json:"size"`
	ChunkIndex     int      `json:"chunk_index"`
	QuestionIDList []string `json:"question_id_list"`
}

// HasQuestions reports whether any question references this chunk
func (p *FilePair) HasQuestions() bool {
	return len(p.QuestionIDList) > 0
}

// GAPair conditions question generation on a genre and an audience
type GAPair struct {
	BaseEntity
	ProjectID           string `json:"project_id"`
	FileID              string `json:"file_id"`
	GenreTitle          string `json:"genre_title"`
	GenreDescription    string `json:"genre_description"`
	AudienceTitle       string `json:"audience_title"`
	AudienceDescription string `json:"audience_description"`
	Enabled             bool   `json:"enabled"`
}

// SameQuadruple reports whether two pairs carry identical titles and
// descriptions, used to skip duplicates in append mode.
func (g *GAPair) SameQuadruple(other *GAPair) bool {
	return g.GenreTitle == other.GenreTitle &&
		g.GenreDescription == other.GenreDescription &&
		g.AudienceTitle == other.AudienceTitle &&
		g.AudienceDescription == other.AudienceDescription
}

// Question is generated from a chunk, optionally adapted to a GA pair
// whose snapshot is embedded so later GA edits do not change it.
type Question struct {
	BaseEntity
	ProjectID  string  `json:"project_id"`
	FileID     string  `json:"file_id"`
	FilePairID string  `json:"file_pair_id"`
	Question   string  `json:"question"`
	TagLabel   string  `json:"tag_label"`
	GAPair     *GAPair `json:"ga_pair,omitempty"`
	HasDataset bool    `json:"has_dataset"`
}

// Dataset is a question/answer/chain-of-thought triple
type Dataset struct {
	BaseEntity
	ProjectID  string `json:"project_id"`
	QuestionID string `json:"question_id"`
	FilePairID string `json:"file_pair_id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Cot        string `json:"cot"`
	Model      string `json:"model"`
}

// Tag is a node in the per-project label forest. RootIDs denormalizes
// the ancestor chain for fast subtree lookups.
type Tag struct {
	BaseEntity
	ProjectID string   `json:"project_id"`
	Label     string   `json:"label"`
	ParentID  string   `json:"parent_id"`
	RootIDs   []string `json:"root_ids"`
}

// Catalog stores the extracted table of contents of a file as JSON
type Catalog struct {
	BaseEntity
	ProjectID string `json:"project_id"`
	FileID    string `json:"file_id"`
	TocJSON   string `json:"toc_json"`
}

// Package docindex stores documentation sections with their embedding
// vectors in a single JSON file and answers cosine-similarity queries.
//
// The file is small (one vector per heading section), so a flat scan is
// used instead of an approximate index.
package docindex

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/devscontext/internal/model"
	"go.uber.org/zap"
)

// DefaultPath is where the index lives unless configured otherwise.
const DefaultPath = ".devscontext/doc_index.json"

var (
	// ErrLengthMismatch is returned when sections and embeddings differ in count.
	ErrLengthMismatch = errors.New("sections and embeddings must have the same length")

	// ErrDimensionMismatch is returned when embeddings differ in length.
	ErrDimensionMismatch = errors.New("embeddings must share one dimension")

	// ErrCorruptIndex is returned when the index file cannot be decoded.
	ErrCorruptIndex = errors.New("corrupt document index")
)

// IndexedSection is a section as stored in the index file.
type IndexedSection struct {
	FilePath     string        `json:"file_path"`
	SectionTitle *string       `json:"section_title"`
	Content      string        `json:"content"`
	DocType      model.DocType `json:"doc_type"`
}

// FromSection converts a parsed section for indexing.
func FromSection(s model.DocumentSection) IndexedSection {
	return IndexedSection{
		FilePath:     s.FilePath,
		SectionTitle: s.SectionTitle,
		Content:      s.Content,
		DocType:      s.DocType,
	}
}

// Section converts back to a document section.
func (s IndexedSection) Section() model.DocumentSection {
	return model.DocumentSection{
		FilePath:     s.FilePath,
		SectionTitle: s.SectionTitle,
		Content:      s.Content,
		DocType:      s.DocType,
	}
}

// ScoredSection is a search hit.
type ScoredSection struct {
	Section IndexedSection
	Score   float64
}

// Stats summarizes index contents.
type Stats struct {
	Path         string                `json:"index_path"`
	Exists       bool                  `json:"exists"`
	Loaded       bool                  `json:"loaded"`
	Model        string                `json:"model,omitempty"`
	Dimension    int                   `json:"dimension,omitempty"`
	SectionCount int                   `json:"section_count"`
	IndexedAt    *time.Time            `json:"indexed_at,omitempty"`
	DocTypes     map[model.DocType]int `json:"doc_types"`
}

// snapshot is the on-disk JSON layout.
type snapshot struct {
	Model      string           `json:"model"`
	Dimension  *int             `json:"dimension"`
	IndexedAt  *time.Time       `json:"indexed_at"`
	Sections   []IndexedSection `json:"sections"`
	Embeddings [][]float32      `json:"embeddings"`
}

// Index is a file-backed flat vector index. It is safe for concurrent
// readers; AddSections, Clear and Load take the write lock.
type Index struct {
	path   string
	logger *zap.Logger

	mu         sync.RWMutex
	model      string
	dimension  int
	indexedAt  *time.Time
	sections   []IndexedSection
	embeddings [][]float32
	norms      []float64
}

// New creates an empty index bound to path.
func New(path string, logger *zap.Logger) *Index {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{path: path, logger: logger}
}

// Path returns the index file path.
func (idx *Index) Path() string {
	return idx.path
}

// Exists reports whether the index file is present on disk.
func (idx *Index) Exists() bool {
	info, err := os.Stat(idx.path)
	return err == nil && !info.IsDir()
}

// Len returns the number of indexed sections.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.sections)
}

// Model returns the embedding model recorded in the index.
func (idx *Index) Model() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.model
}

// Dimension returns the vector length shared by every embedding, or 0 for
// an empty index.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dimension
}

// AddSections replaces the index contents. Validation happens before any
// state changes, so a rejected call leaves the index untouched.
func (idx *Index) AddSections(sections []IndexedSection, embeddings [][]float32, modelName string) error {
	if len(sections) != len(embeddings) {
		return fmt.Errorf("%w: %d sections, %d embeddings", ErrLengthMismatch, len(sections), len(embeddings))
	}
	dim := 0
	if len(embeddings) > 0 {
		dim = len(embeddings[0])
		for i, e := range embeddings {
			if len(e) != dim {
				return fmt.Errorf("%w: embedding %d has %d values, expected %d", ErrDimensionMismatch, i, len(e), dim)
			}
		}
	}

	now := time.Now().UTC()
	secs := append([]IndexedSection(nil), sections...)
	embs := append([][]float32(nil), embeddings...)
	norms := computeNorms(embs)

	idx.mu.Lock()
	idx.sections = secs
	idx.embeddings = embs
	idx.norms = norms
	idx.model = modelName
	idx.dimension = dim
	idx.indexedAt = &now
	idx.mu.Unlock()

	idx.logger.Info("indexed document sections",
		zap.Int("sections", len(secs)),
		zap.String("model", modelName),
		zap.Int("dimension", dim),
	)
	return nil
}

// Search returns up to topK sections whose cosine similarity with query is
// at least threshold, best first. Ties keep index order. A zero query
// vector matches nothing; a zero document vector is treated as norm 1.
func (idx *Index) Search(query []float32, topK int, threshold float64) []ScoredSection {
	if topK <= 0 {
		return nil
	}
	qNorm := norm(query)
	if qNorm == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	results := make([]ScoredSection, 0, len(idx.sections))
	for i, emb := range idx.embeddings {
		if len(emb) != len(query) {
			continue
		}
		dNorm := idx.norms[i]
		if dNorm == 0 {
			dNorm = 1
		}
		score := dot(emb, query) / (dNorm * qNorm)
		if score >= threshold {
			results = append(results, ScoredSection{Section: idx.sections[i], Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Save writes the index as JSON. The file is written to a temporary path
// and renamed so readers never see a partial file.
func (idx *Index) Save() error {
	idx.mu.RLock()
	snap := snapshot{
		Model:      idx.model,
		IndexedAt:  idx.indexedAt,
		Sections:   idx.sections,
		Embeddings: idx.embeddings,
	}
	if idx.dimension > 0 {
		d := idx.dimension
		snap.Dimension = &d
	}
	count := len(idx.sections)
	idx.mu.RUnlock()

	if snap.Sections == nil {
		snap.Sections = []IndexedSection{}
	}
	if snap.Embeddings == nil {
		snap.Embeddings = [][]float32{}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(idx.path), ".doc_index-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close index: %w", err)
	}
	if err := os.Rename(tmpName, idx.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace index: %w", err)
	}

	idx.logger.Info("saved document index", zap.String("path", idx.path), zap.Int("sections", count))
	return nil
}

// Load reads the index file. A missing file returns (false, nil); a file
// that cannot be decoded or is internally inconsistent returns an error
// wrapping ErrCorruptIndex and leaves the in-memory index unchanged.
func (idx *Index) Load() (bool, error) {
	data, err := os.ReadFile(idx.path)
	if errors.Is(err, os.ErrNotExist) {
		idx.logger.Debug("index file not found", zap.String("path", idx.path))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read index %s: %w", idx.path, err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrCorruptIndex, idx.path, err)
	}
	if len(snap.Sections) != len(snap.Embeddings) {
		return false, fmt.Errorf("%w: %s: %d sections but %d embeddings",
			ErrCorruptIndex, idx.path, len(snap.Sections), len(snap.Embeddings))
	}
	dim := 0
	if len(snap.Embeddings) > 0 {
		dim = len(snap.Embeddings[0])
	}
	for i, e := range snap.Embeddings {
		if len(e) != dim {
			return false, fmt.Errorf("%w: %s: embedding %d has dimension %d, expected %d",
				ErrCorruptIndex, idx.path, i, len(e), dim)
		}
	}
	for i := range snap.Sections {
		s := &snap.Sections[i]
		if s.FilePath == "" {
			return false, fmt.Errorf("%w: %s: section %d has no file_path", ErrCorruptIndex, idx.path, i)
		}
		if s.DocType == "" {
			s.DocType = model.DocOther
		}
		if !s.DocType.Valid() {
			return false, fmt.Errorf("%w: %s: section %d has unknown doc_type %q", ErrCorruptIndex, idx.path, i, s.DocType)
		}
	}

	norms := computeNorms(snap.Embeddings)

	idx.mu.Lock()
	idx.model = snap.Model
	idx.dimension = dim
	idx.indexedAt = snap.IndexedAt
	idx.sections = snap.Sections
	idx.embeddings = snap.Embeddings
	idx.norms = norms
	idx.mu.Unlock()

	idx.logger.Info("loaded document index",
		zap.String("path", idx.path),
		zap.Int("sections", len(snap.Sections)),
		zap.String("model", snap.Model),
	)
	return true, nil
}

// Clear empties the in-memory index. The file on disk is kept.
func (idx *Index) Clear() {
	idx.mu.Lock()
	idx.sections = nil
	idx.embeddings = nil
	idx.norms = nil
	idx.indexedAt = nil
	idx.dimension = 0
	idx.mu.Unlock()
}

// Delete clears the index and removes its file.
func (idx *Index) Delete() error {
	idx.Clear()
	if err := os.Remove(idx.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	return nil
}

// Stats reports what the index holds.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	docTypes := make(map[model.DocType]int)
	for _, s := range idx.sections {
		docTypes[s.DocType]++
	}
	return Stats{
		Path:         idx.path,
		Exists:       idx.Exists(),
		Loaded:       len(idx.sections) > 0,
		Model:        idx.model,
		Dimension:    idx.dimension,
		SectionCount: len(idx.sections),
		IndexedAt:    idx.indexedAt,
		DocTypes:     docTypes,
	}
}

func computeNorms(embeddings [][]float32) []float64 {
	norms := make([]float64, len(embeddings))
	for i, e := range embeddings {
		norms[i] = norm(e)
	}
	return norms
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

package types

import (
	"strings"
	"time"
)

// Box is a face bounding box in pixel coordinates, origin top-left.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool {
	return b.W <= 0 || b.H <= 0
}

// Embedding is a fixed-length face feature vector.
type Embedding []float32

// Valid reports whether the embedding has exactly dim components.
func (e Embedding) Valid(dim int) bool {
	return dim > 0 && len(e) == dim
}

// SlotEmbedding is a stored embedding together with the enrollment slot it came from.
type SlotEmbedding struct {
	Slot   int
	Vector Embedding
}

// IdentityMeta is the persisted metadata of an enrolled identity.
type IdentityMeta struct {
	Key        string            `json:"id"`
	Name       string            `json:"name"`
	RollNo     string            `json:"roll_no"`
	Class      string            `json:"class"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Images     []string          `json:"images,omitempty"`
	EnrolledAt time.Time         `json:"enrolled_at,omitempty"`
}

// IdentityKey builds the storage key of an identity from its name and roll number.
func IdentityKey(name, rollNo string) string {
	return strings.TrimSpace(name) + "_" + strings.TrimSpace(rollNo)
}

// IdentityRecord is an enrolled identity loaded for a single recognition request.
type IdentityRecord struct {
	IdentityMeta
	Embeddings []SlotEmbedding
}

// Gallery is the request-scoped roster of identities, sorted by Key.
type Gallery struct {
	Identities []IdentityRecord
}

// Len returns the number of identities in the gallery.
func (g *Gallery) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Identities)
}

// DetectedFace is a single face found in the group image.
type DetectedFace struct {
	Index     int
	Box       Box // raw detector output
	CropBox   Box // margin-expanded region that was cropped
	Crop      []byte
	CropPath  string
	Embedding Embedding // nil when extraction failed or was invalid
	Err       error
}

// Matchable reports whether the face can take part in similarity matching.
func (f *DetectedFace) Matchable(dim int) bool {
	return f.Err == nil && f.Embedding.Valid(dim)
}

// Strategy names the pass that produced a match.
type Strategy string

const (
	StrategySimilarity   Strategy = "similarity"
	StrategyVerification Strategy = "verification"
)

// MatchResult is the externally visible outcome for one recognized identity.
type MatchResult struct {
	IdentityKey string            `json:"identity_key"`
	Name        string            `json:"name"`
	RollNo      string            `json:"roll_no"`
	Class       string            `json:"class"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	FaceIndex   int               `json:"-"`
	Strategy    Strategy          `json:"-"`
	Distance    float64           `json:"-"`
}

// NewMatchResult builds a result for the given identity and face.
func NewMatchResult(rec *IdentityRecord, faceIndex int, strategy Strategy, distance float64) MatchResult {
	return MatchResult{
		IdentityKey: rec.Key,
		Name:        rec.Name,
		RollNo:      rec.RollNo,
		Class:       rec.Class,
		Attributes:  rec.Attributes,
		FaceIndex:   faceIndex,
		Strategy:    strategy,
		Distance:    distance,
	}
}

// Verification is the outcome of a pairwise face comparison.
type Verification struct {
	Verified bool
	Distance float64
}

// SkippedIdentity records an identity left out of the gallery.
type SkippedIdentity struct {
	Key    string
	Reason string
}

// FailedFace records a detected face excluded from similarity matching.
type FailedFace struct {
	Index  int
	Reason string
}

// Report collects per-stage outcomes of one recognition request.
type Report struct {
	Skipped            []SkippedIdentity
	Regenerated        []string
	FailedFaces        []FailedFace
	VerificationErrors int
}

// SkippedKeys returns the keys of all skipped identities.
func (r *Report) SkippedKeys() []string {
	keys := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		keys = append(keys, s.Key)
	}
	return keys
}

// RecognitionResponse is the assembled result of a recognition request.
type RecognitionResponse struct {
	Recognized     []MatchResult
	FacesDetected  int
	ProcessingTime time.Duration
	Report         Report
}

// ErrorResult captures the error object returned by the inference worker on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// InferenceResult is the JSON body returned by the inference worker and server.
// Only the fields of the requested operation are populated.
type InferenceResult struct {
	ErrorResult
	Boxes    [][4]int  `json:"boxes,omitempty"`
	Vec      []float32 `json:"vec,omitempty"`
	Verified bool      `json:"verified,omitempty"`
	Distance float64   `json:"distance,omitempty"`
}

// BoxList converts the [x, y, w, h] arrays into boxes.
func (r *InferenceResult) BoxList() []Box {
	boxes := make([]Box, 0, len(r.Boxes))
	for _, b := range r.Boxes {
		boxes = append(boxes, Box{X: b[0], Y: b[1], W: b[2], H: b[3]})
	}
	return boxes
}

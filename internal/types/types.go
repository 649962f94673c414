package types

// Embedding is a face descriptor produced by the extraction worker.
type Embedding []float64

// FaceResult matches the JSON structure coming back from the Python worker
type FaceResult struct {
	Loc []int     `json:"loc"` // [top, right, bottom, left]
	Vec Embedding `json:"vec"` // 128-d face encoding
}

// Area returns the pixel area of the face box, 0 if the box is malformed.
func (f FaceResult) Area() int {
	if len(f.Loc) != 4 {
		return 0
	}
	h := f.Loc[2] - f.Loc[0]
	w := f.Loc[1] - f.Loc[3]
	if h <= 0 || w <= 0 {
		return 0
	}
	return h * w
}

// ExtractResult is the full worker answer for one image.
// Objects are object-detector boxes [x1, y1, x2, y2]; informational only.
type ExtractResult struct {
	Faces   []FaceResult `json:"faces"`
	Objects [][]float64  `json:"objects,omitempty"`
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// Image is a captured still, as written by the capture utility.
type Image struct {
	Path string
	Data []byte
}

// Identity is one registry entry: a known person and their reference embedding.
type Identity struct {
	Name string
	Vec  Embedding
	// Source is the reference photo the embedding was taken from.
	Source string
}

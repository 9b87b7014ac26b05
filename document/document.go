package document

// Options tune how one field is indexed.
type Options uint8

const (
	// NoPositions indexes a Text field without positions. Phrase queries
	// on it will not match.
	NoPositions Options = 1 << iota
	// NoNorms skips the length norm of a Text field.
	NoNorms
)

// Point is a geographic coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Field is one named, typed value of a document. Value holds:
//
//   - Text, String: string
//   - TermSet: string (analyzed) or []string (taken as is)
//   - List: []string
//   - Numeric: int, int64 or int32
//   - Bit: uint64, uint32 or int
//   - Coord: Point
type Field struct {
	Name    string
	Type    Type
	Value   any
	Lang    string
	Options Options
}

// Document is the unit of ingestion. It is never persisted as is: every
// field is translated into segment structures and only Payload and Snippet
// are stored.
type Document struct {
	ID      string
	Fields  []Field
	Payload []byte
	Snippet string
}

// New returns a document with the given primary id.
func New(id string) *Document { return &Document{ID: id} }

// Add appends a field and returns the document for chaining.
func (d *Document) Add(f Field) *Document {
	d.Fields = append(d.Fields, f)
	return d
}

// WithPayload sets the stored payload.
func (d *Document) WithPayload(p []byte) *Document {
	d.Payload = p
	return d
}

// WithSnippet sets the text highlighted in search results.
func (d *Document) WithSnippet(s string) *Document {
	d.Snippet = s
	return d
}

func TextField(name, value string) Field {
	return Field{Name: name, Type: Text(), Value: value}
}

func TermSetField(name string, terms ...string) Field {
	return Field{Name: name, Type: TermSet(), Value: terms}
}

func StringField(name, value string) Field {
	return Field{Name: name, Type: String(), Value: value}
}

func ListField(name string, values ...string) Field {
	return Field{Name: name, Type: List(), Value: values}
}

func NumericField(name string, width uint8, value int64) Field {
	return Field{Name: name, Type: Numeric(width), Value: value}
}

func BitField(name string, width uint8, mask uint64) Field {
	return Field{Name: name, Type: Bit(width), Value: mask}
}

func CoordField(name string, precision uint8, lat, lon float64) Field {
	return Field{Name: name, Type: Coord(precision), Value: Point{Lat: lat, Lon: lon}}
}

// WithLang returns a copy of f analyzed in lang.
func (f Field) WithLang(lang string) Field {
	f.Lang = lang
	return f
}

// WithOptions returns a copy of f with opts set.
func (f Field) WithOptions(opts Options) Field {
	f.Options |= opts
	return f
}

package query

// Type is the semantic type of a parameter or column. It tells the binder
// which conversions a value needs and tells the row mapper how to decode a
// raw column value.
type Type int

const (
	Any Type = iota
	Bool
	Int
	Float
	Numeric
	Text
	Bytes
	Timestamp
	Date
	UUID
	JSON
	Enum
)

var typeNames = [...]string{
	Any:       "any",
	Bool:      "bool",
	Int:       "int",
	Float:     "float",
	Numeric:   "numeric",
	Text:      "text",
	Bytes:     "bytes",
	Timestamp: "timestamp",
	Date:      "date",
	UUID:      "uuid",
	JSON:      "json",
	Enum:      "enum",
}

func (t Type) String() string {
	if int(t) >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

type Style int

const (
	// $1, $2, ... in declaration order.
	Positional Style = iota
	// :name, one per declared parameter name.
	Named
)

func (s Style) String() string {
	if s == Named {
		return "named"
	}
	return "positional"
}

type Param struct {
	Name string
	// 1-based. For positional queries this is the N in $N.
	Position   int
	Type       Type
	Nullable   bool
	Array      bool
	EnumValues []string
}

type Column struct {
	Name     string
	Type     Type
	Nullable bool
	Array    bool
}

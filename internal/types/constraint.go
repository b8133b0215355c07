package types

// ComparatorOp is one operator of a semantic version requirement.
type ComparatorOp string

const (
	ComparatorExact     ComparatorOp = "="
	ComparatorGreater   ComparatorOp = ">"
	ComparatorGreaterEq ComparatorOp = ">="
	ComparatorLess      ComparatorOp = "<"
	ComparatorLessEq    ComparatorOp = "<="
	ComparatorTilde     ComparatorOp = "~"
	ComparatorCaret     ComparatorOp = "^"
	ComparatorWildcard  ComparatorOp = "*"
)

// Comparator is one clause of a requirement. Minor and Patch are nil when
// the clause leaves them open (for example "1.*" or "~1").
type Comparator struct {
	Op         ComparatorOp
	Major      uint64
	Minor      *uint64
	Patch      *uint64
	Prerelease string
}

// Requirement is a parsed, comma separated list of comparators that must
// all hold.
type Requirement struct {
	Raw         string
	Comparators []Comparator
}

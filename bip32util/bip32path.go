package bip32util

import (
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrPathAlreadyMaxDepth is returned when the
	// BIP32 key has reached it's theoretical maximum
	// depth of 255, since additional derivations cannot
	// safely be serialized in a uint8
	ErrPathAlreadyMaxDepth = errors.New("Cannot create child path, currently at max BIP32 depth")

	// ErrPathNotContained is returned when a key is asked
	// to derive a path which does not extend its own.
	ErrPathNotContained = errors.New("Path does not extend the key path")
)

const (
	privatePathPrefix = "m"
	publicPathPrefix  = "M"
	privatePathSymbol = "'"
	maxBip32Depth     = math.MaxUint8

	// HardenedIndicesPerElement is the number of path levels a
	// derivation path element expands to. Together they carry
	// 248 bits of the element's hash.
	HardenedIndicesPerElement = 8
	hardenedIndexBits         = 31
)

// NewPathFromString wraps a call to PathInfoFromString, and initializes
// a Path from the result.
func NewPathFromString(path string) (*Path, error) {
	var err error
	p := &Path{}
	p.fPriv, p.Path, err = PathInfoFromString(path)

	if err != nil {
		return nil, err
	}

	return p, nil
}

// Path defines a BIP32 derivation path out of
// the key type and the list of child indices.
type Path struct {
	fPriv bool
	Path  []uint32
}

// NewPrivatePath initializes a path for `m`
func NewPrivatePath() *Path {
	return &Path{
		fPriv: true,
		Path:  make([]uint32, 0),
	}
}

// NewPublicPath initializes a path for `M`
func NewPublicPath() *Path {
	return &Path{
		fPriv: false,
		Path:  make([]uint32, 0),
	}
}

// Child attempts to append another sequence
// number to the path array, returning a new
// structure
func (p *Path) Child(sequence uint32) (*Path, error) {
	if p.Depth()+1 > maxBip32Depth {
		return nil, ErrPathAlreadyMaxDepth
	}

	indices := make([]uint32, p.Depth(), p.Depth()+1)
	copy(indices, p.Path)

	return &Path{
		fPriv: p.fPriv,
		Path:  append(indices, sequence),
	}, nil
}

// HardenedIndicesFromBytes maps an arbitrary byte string to
// HardenedIndicesPerElement hardened child indices. The sha256
// of element is cut into 31 bit words, most significant first,
// and each word gets the hardened bit set.
func HardenedIndicesFromBytes(element []byte) []uint32 {
	hash := chainhash.HashB(element)

	indices := make([]uint32, HardenedIndicesPerElement)
	for i := range indices {
		var index uint32
		for b := 0; b < hardenedIndexBits; b++ {
			bit := i*hardenedIndexBits + b
			index = index<<1 | uint32(hash[bit/8]>>(7-bit%8)&1)
		}
		indices[i] = index | hdkeychain.HardenedKeyStart
	}

	return indices
}

// Extend appends the hardened indices of every byte string
// element, see HardenedIndicesFromBytes.
func (p *Path) Extend(elements [][]byte) (*Path, error) {
	path := p
	for _, element := range elements {
		for _, index := range HardenedIndicesFromBytes(element) {
			var err error
			path, err = path.Child(index)
			if err != nil {
				return nil, err
			}
		}
	}

	return path, nil
}

// ToPublic returns a new struct with the same
// info, except fPriv is now false
func (p *Path) ToPublic() *Path {
	return &Path{
		fPriv: false,
		Path:  p.Path,
	}
}

// Depth returns the current depth of the path
func (p *Path) Depth() int {
	return len(p.Path)
}

// IsPrivate returns whether the path is for a
// public (false) or private (true) key.
func (p *Path) IsPrivate() bool {
	return p.fPriv
}

// IsContainedIn checks that the current p is completely
// specified in the other Path.
func (p *Path) IsContainedIn(other *Path) bool {
	depth := p.Depth()
	if depth > other.Depth() {
		return false
	}

	for i := 0; i < depth; i++ {
		if p.Path[i] != other.Path[i] {
			return false
		}
	}

	return true
}

// isBip32SequenceHardened returns whether the provided
// sequence has the leftmost bit set.
func isBip32SequenceHardened(sequence uint32) bool {
	return sequence&hdkeychain.HardenedKeyStart != 0
}

// PathSegmentFromSequence is used for serializing the
// sequence parameter from a Path into a string. The
// function returns the sequence number as a string, with
// the private path symbol if the sequence is hardened.
func PathSegmentFromSequence(sequence uint32) string {
	if isBip32SequenceHardened(sequence) {
		return strconv.FormatUint(uint64(sequence-hdkeychain.HardenedKeyStart), 10) + privatePathSymbol
	}
	return strconv.FormatUint(uint64(sequence), 10)
}

// sequenceFromSegment parses a single path segment,
// eg 44' or 0.
func sequenceFromSegment(segment string) (uint32, error) {
	switch strings.Count(segment, privatePathSymbol) {
	case 0:
		sequence, err := strconv.ParseUint(segment, 10, 31)
		if err != nil {
			return 0, err
		}
		return uint32(sequence), nil
	case 1:
		if !strings.HasSuffix(segment, privatePathSymbol) {
			return 0, errors.Errorf("Improperly formatted BIP32 derivation (%s)", segment)
		}
		sequence, err := strconv.ParseUint(strings.TrimSuffix(segment, privatePathSymbol), 10, 31)
		if err != nil {
			return 0, err
		}
		return uint32(sequence) + hdkeychain.HardenedKeyStart, nil
	default:
		return 0, errors.New("Improperly formatted BIP32 derivation (cannot contain multiple ' characters)")
	}
}

// PathInfoFromString is used by other code, it takes
// a path(string) and extracts fPriv, Path, or an error.
func PathInfoFromString(path string) (bool, []uint32, error) {
	if len(path) == 0 {
		return false, nil, errors.New("Path cannot be empty string")
	}

	pieces := strings.Split(path, "/")

	var isPrivateKey bool
	switch pieces[0] {
	case privatePathPrefix:
		isPrivateKey = true
	case publicPathPrefix:
		isPrivateKey = false
	default:
		return false, nil, errors.New("Absolute BIP32 path is required")
	}

	pieces = pieces[1:]
	if len(pieces) > maxBip32Depth {
		return false, nil, errors.Errorf("The provided path exceeds the maximum number of allowed derivations: %d", maxBip32Depth)
	}

	indices := make([]uint32, len(pieces))
	for i, segment := range pieces {
		sequence, err := sequenceFromSegment(segment)
		if err != nil {
			return false, nil, err
		}
		indices[i] = sequence
	}

	return isPrivateKey, indices, nil
}

// String encodes the Path structure into a string that
// is human readable, eg, M/9999'/0/1
func (p *Path) String() string {
	steps := make([]string, 1+p.Depth())
	if p.fPriv {
		steps[0] = privatePathPrefix
	} else {
		steps[0] = publicPathPrefix
	}

	for i, sequence := range p.Path {
		steps[1+i] = PathSegmentFromSequence(sequence)
	}

	return strings.Join(steps, "/")
}

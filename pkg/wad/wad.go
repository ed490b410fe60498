// Package wad reads the directory-of-lumps archive container used by the
// DOOM family of games and resolves lump names to raw byte slices.
package wad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	headerSize = 12 // magic[4] + numlumps[4] + diroffset[4]
	entrySize  = 16 // filepos[4] + size[4] + name[8]
	nameSize   = 8
)

var (
	ErrBadMagic           = errors.New("wad: not a WAD file")
	ErrTruncatedDirectory = errors.New("wad: truncated directory")
	ErrCorruptEntry       = errors.New("wad: corrupt directory entry")
	ErrNotFound           = errors.New("wad: lump not found")
)

// DefaultMusicPrefixes are the two conventional song-lump prefixes.
// DOOM-family WADs use D_, some other games use MUS_.
var DefaultMusicPrefixes = []string{"D_", "MUS_"}

// Lump is one directory entry: a named span of bytes inside the archive.
type Lump struct {
	Name   string // upper ASCII, trailing NULs/spaces stripped
	Offset uint32
	Length uint32
}

// Archive is a parsed WAD held entirely in memory. The backing buffer is
// never written after Open, so an Archive is safe for concurrent lookups.
type Archive struct {
	data  []byte
	lumps []Lump
	iwad  bool
}

// Open parses the header and directory of an in-memory WAD image.
// Every entry span is validated here so Read never goes out of bounds.
func Open(data []byte) (*Archive, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrBadMagic, len(data))
	}
	magic := string(data[0:4])
	if magic != "IWAD" && magic != "PWAD" {
		return nil, fmt.Errorf("%w: magic %q", ErrBadMagic, magic)
	}
	numLumps := binary.LittleEndian.Uint32(data[4:8])
	dirOffset := binary.LittleEndian.Uint32(data[8:12])

	dirEnd := uint64(dirOffset) + uint64(numLumps)*entrySize
	if dirEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d entries at offset %d exceed file size %d",
			ErrTruncatedDirectory, numLumps, dirOffset, len(data))
	}

	a := &Archive{
		data:  data,
		lumps: make([]Lump, 0, numLumps),
		iwad:  magic == "IWAD",
	}
	for i := uint32(0); i < numLumps; i++ {
		e := data[dirOffset+i*entrySize:]
		l := Lump{
			Offset: binary.LittleEndian.Uint32(e[0:4]),
			Length: binary.LittleEndian.Uint32(e[4:8]),
			Name:   lumpName(e[8 : 8+nameSize]),
		}
		if uint64(l.Offset)+uint64(l.Length) > uint64(len(data)) {
			return nil, fmt.Errorf("%w: %q spans [%d, %d) in a %d byte file",
				ErrCorruptEntry, l.Name, l.Offset, uint64(l.Offset)+uint64(l.Length), len(data))
		}
		a.lumps = append(a.lumps, l)
	}
	return a, nil
}

// Load reads a WAD from disk and parses it.
func Load(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Open(data)
}

// IWAD reports whether the archive is a base game WAD rather than a patch.
func (a *Archive) IWAD() bool { return a.iwad }

// NumLumps returns the number of directory entries.
func (a *Archive) NumLumps() int { return len(a.lumps) }

// Lumps returns the directory in file order.
func (a *Archive) Lumps() []Lump { return a.lumps }

// Names lists lump names in file order.
func (a *Archive) Names() []string {
	names := make([]string, len(a.lumps))
	for i, l := range a.lumps {
		names[i] = l.Name
	}
	return names
}

// NamesWithPrefixes lists lump names that start with any of the given
// ASCII prefixes, case-insensitive.
func (a *Archive) NamesWithPrefixes(prefixes []string) []string {
	ups := upperAll(prefixes)
	var names []string
	for _, l := range a.lumps {
		for _, p := range ups {
			if strings.HasPrefix(l.Name, p) {
				names = append(names, l.Name)
				break
			}
		}
	}
	return names
}

// Find resolves a lump name to its directory entry. Matching is
// case-insensitive and exact-length; the first match in file order wins.
func (a *Archive) Find(name string) (Lump, error) {
	q := NormalizeName(name)
	for _, l := range a.lumps {
		if l.Name == q {
			return l, nil
		}
	}
	return Lump{}, fmt.Errorf("%w: %q", ErrNotFound, q)
}

// Read returns the raw bytes of a lump. The returned slice aliases the
// archive buffer and must be treated as read-only.
func (a *Archive) Read(l Lump) []byte {
	return a.data[l.Offset : l.Offset+l.Length]
}

// ReadName is Find followed by Read.
func (a *Archive) ReadName(name string) ([]byte, error) {
	l, err := a.Find(name)
	if err != nil {
		return nil, err
	}
	return a.Read(l), nil
}

// NormalizeName uppercases and trims a caller-supplied lump token the same
// way directory names are normalized at Open.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// lumpName converts a fixed 8-byte directory name to upper ASCII without
// trailing NUL or space padding.
func lumpName(b []byte) string {
	end := len(b)
	for i, c := range b {
		if c == 0 {
			end = i
			break
		}
	}
	return strings.ToUpper(strings.TrimRight(string(b[:end]), " "))
}

func upperAll(ss []string) []string {
	ups := make([]string, len(ss))
	for i, s := range ss {
		ups[i] = strings.ToUpper(s)
	}
	return ups
}

package wad

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLump struct {
	name string
	data []byte
}

// buildWAD assembles a minimal in-memory WAD: header, lump data, directory.
func buildWAD(magic string, lumps []fakeLump) []byte {
	var buf []byte
	buf = append(buf, magic...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(lumps)))

	offsets := make([]uint32, len(lumps))
	pos := uint32(headerSize)
	for i, l := range lumps {
		offsets[i] = pos
		pos += uint32(len(l.data))
	}
	buf = binary.LittleEndian.AppendUint32(buf, pos) // directory offset

	for _, l := range lumps {
		buf = append(buf, l.data...)
	}
	for i, l := range lumps {
		buf = binary.LittleEndian.AppendUint32(buf, offsets[i])
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(l.data)))
		var name [nameSize]byte
		copy(name[:], l.name)
		buf = append(buf, name[:]...)
	}
	return buf
}

func TestOpenAndList(t *testing.T) {
	data := buildWAD("IWAD", []fakeLump{
		{"HELLO", []byte("hello")},
		{"D_TEST", []byte{'M', 'U', 'S', 0x1a}},
	})
	a, err := Open(data)
	require.NoError(t, err)

	assert.True(t, a.IWAD())
	assert.Equal(t, 2, a.NumLumps())
	assert.Equal(t, []string{"HELLO", "D_TEST"}, a.Names())
	assert.Equal(t, []string{"D_TEST"}, a.NamesWithPrefixes(DefaultMusicPrefixes))
	assert.Equal(t, []string{"D_TEST"}, a.NamesWithPrefixes([]string{"d_", "mus_"}))
}

func TestFindIsCaseInsensitiveAndIdempotent(t *testing.T) {
	data := buildWAD("PWAD", []fakeLump{{"D_TEST", []byte{1, 2, 3}}})
	a, err := Open(data)
	require.NoError(t, err)

	want, err := a.Find("D_TEST")
	require.NoError(t, err)
	for _, q := range []string{"d_test", "D_test", "  d_TEST ", "D_TEST"} {
		got, err := a.Find(q)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = a.Find("D_NOPE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadReturnsLumpBytes(t *testing.T) {
	data := buildWAD("IWAD", []fakeLump{
		{"HELLO", []byte("hello")},
		{"WORLD", []byte("world!")},
	})
	a, err := Open(data)
	require.NoError(t, err)

	b, err := a.ReadName("world")
	require.NoError(t, err)
	assert.Equal(t, []byte("world!"), b)
}

func TestBadMagicRejected(t *testing.T) {
	_, err := Open([]byte("XXXX\x00\x00\x00\x00\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = Open([]byte("IW"))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestTruncatedDirectoryRejected(t *testing.T) {
	var buf []byte
	buf = append(buf, "IWAD"...)
	buf = binary.LittleEndian.AppendUint32(buf, 1000) // claims 1000 lumps
	buf = binary.LittleEndian.AppendUint32(buf, headerSize)
	_, err := Open(buf)
	assert.ErrorIs(t, err, ErrTruncatedDirectory)
}

func TestCorruptEntryRejected(t *testing.T) {
	data := buildWAD("IWAD", []fakeLump{{"BROKEN", []byte{1, 2, 3}}})
	// Patch the entry length so offset+length runs past the file end.
	dirOffset := binary.LittleEndian.Uint32(data[8:12])
	binary.LittleEndian.PutUint32(data[dirOffset+4:], 0xFFFF)

	_, err := Open(data)
	assert.ErrorIs(t, err, ErrCorruptEntry)
}

func TestFirstMatchWinsWithinOneArchive(t *testing.T) {
	data := buildWAD("IWAD", []fakeLump{
		{"D_DUP", []byte("first")},
		{"D_DUP", []byte("second")},
	})
	a, err := Open(data)
	require.NoError(t, err)

	b, err := a.ReadName("D_DUP")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), b)
}

func TestStackLastLoadedWins(t *testing.T) {
	base, err := Open(buildWAD("IWAD", []fakeLump{
		{"D_E1M1", []byte("base")},
		{"D_E1M2", []byte("only in base")},
	}))
	require.NoError(t, err)
	patch, err := Open(buildWAD("PWAD", []fakeLump{
		{"D_E1M1", []byte("patched")},
	}))
	require.NoError(t, err)

	s := NewStack(base)
	s.Add(patch)

	b, err := s.ReadName("d_e1m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("patched"), b)

	b, err = s.ReadName("D_E1M2")
	require.NoError(t, err)
	assert.Equal(t, []byte("only in base"), b)

	_, err = s.ReadName("D_E9M9")
	assert.ErrorIs(t, err, ErrNotFound)

	names := s.NamesWithPrefixes(DefaultMusicPrefixes)
	assert.ElementsMatch(t, []string{"D_E1M1", "D_E1M2"}, names)
}

func TestResolveSong(t *testing.T) {
	names := []string{"D_RUNNIN", "MUS_E1M1", "D_E1M2"}
	cases := []struct {
		query string
		want  string
		ok    bool
	}{
		{"D_RUNNIN", "D_RUNNIN", true},
		{"runnin", "D_RUNNIN", true},
		{"e1m1", "MUS_E1M1", true},
		{"MUS_E1M1", "MUS_E1M1", true},
		{" e1m2 ", "D_E1M2", true},
		{"nothere", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := ResolveSong(names, c.query, DefaultMusicPrefixes)
		assert.Equal(t, c.ok, ok, "query %q", c.query)
		assert.Equal(t, c.want, got, "query %q", c.query)
	}
}

func TestSuggestSongs(t *testing.T) {
	names := []string{"D_RUNNIN", "MUS_E1M1", "D_E1M2"}

	assert.Equal(t, []string{"MUS_E1M1", "D_E1M2"}, SuggestSongs(names, "e1m"))
	assert.Equal(t, []string{"D_RUNNIN"}, SuggestSongs(names, "run"))
	assert.Empty(t, SuggestSongs(names, "xyz"))
	assert.Empty(t, SuggestSongs(names, ""))
}

package metainfo

import (
	"bytes"
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildMetainfo(announce, announceList, infoExtra string) []byte {
	var buf bytes.Buffer
	buf.WriteString("d")
	buf.WriteString("8:announce")
	buf.WriteString(announce)
	if announceList != "" {
		buf.WriteString("13:announce-list")
		buf.WriteString(announceList)
	}
	buf.WriteString("4:info")
	buf.WriteString(infoExtra)
	buf.WriteString("e")
	return buf.Bytes()
}

func TestParseSingleFileInfoHash(t *testing.T) {
	zeros := bytes.Repeat([]byte{0}, 20)
	info := "d6:lengthi6e4:name5:hello12:piece lengthi32768e6:pieces20:" + string(zeros) + "e"
	raw := buildMetainfo("18:http://tracker/ann", "", info)

	m, err := Parse(raw)
	require.NoError(t, err)

	want := sha1.Sum([]byte(info))
	assert.Equal(t, want, m.InfoHash())
	assert.EqualValues(t, 6, m.TotalLength())
	assert.EqualValues(t, 32768, m.PieceLength())
	assert.Equal(t, "hello", m.OutputName())
	assert.Equal(t, []string{"http://tracker/ann"}, m.AnnounceURLs())
}

func TestInfoHashIndependentOfKeyOrder(t *testing.T) {
	zeros := bytes.Repeat([]byte{0}, 20)
	infoA := "d6:lengthi6e4:name5:hello12:piece lengthi32768e6:pieces20:" + string(zeros) + "e"
	infoB := "d4:name5:hello12:piece lengthi32768e6:pieces20:" + string(zeros) + "6:lengthi6ee"

	rawA := buildMetainfo("18:http://tracker/ann", "", infoA)
	rawB := buildMetainfo("18:http://tracker/ann", "", infoB)

	mA, err := Parse(rawA)
	require.NoError(t, err)
	mB, err := Parse(rawB)
	require.NoError(t, err)

	assert.Equal(t, mA.InfoHash(), mB.InfoHash())
}

func TestAnnounceURLsCombinesListAndDedupes(t *testing.T) {
	zeros := bytes.Repeat([]byte{0}, 20)
	info := "d6:lengthi6e4:name5:hello12:piece lengthi32768e6:pieces20:" + string(zeros) + "e"
	announceList := "ll18:http://tracker/annel18:http://backup/annoee"
	raw := buildMetainfo("18:http://tracker/ann", announceList, info)

	m, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{"http://tracker/ann", "http://backup/anno"}, m.AnnounceURLs())
}

func TestParseRejectsMissingPieces(t *testing.T) {
	info := "d4:name5:helloe"
	raw := buildMetainfo("3:abc", "", info)

	_, err := Parse(raw)
	assert.Error(t, err)
}

func TestParseMultiFileTotalLength(t *testing.T) {
	info := "d4:filesld6:lengthi3e4:pathl1:aeed6:lengthi4e4:pathl1:beee4:name3:dir12:piece lengthi16384e6:pieces20:" + string(bytes.Repeat([]byte{1}, 20)) + "e"
	raw := buildMetainfo("3:abc", "", info)

	m, err := Parse(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 7, m.TotalLength())
	assert.Len(t, m.Files(), 2)
}

func TestOutputNameFallsBackOnInvalidUTF8(t *testing.T) {
	info := "d6:lengthi1e4:name3:" + string([]byte{0xff, 0xfe, 0xfd}) + "12:piece lengthi1e6:pieces20:" + string(bytes.Repeat([]byte{1}, 20)) + "e"
	raw := buildMetainfo("3:abc", "", info)

	m, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, defaultOutputName, m.OutputName())
}

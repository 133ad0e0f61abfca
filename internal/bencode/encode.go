package bencode

import (
	"bytes"
	"strconv"
)

// Encode serializes v into its canonical bencoded form: dictionary entries
// are emitted in ascending lexicographic key order regardless of the order
// they were constructed or decoded in, which is what makes info-hash
// computation stable.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch v.kind {
	case KindInteger:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.i, 10))
		buf.WriteByte('e')
	case KindString:
		buf.WriteString(strconv.Itoa(len(v.s)))
		buf.WriteByte(':')
		buf.Write(v.s)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.list {
			encodeInto(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		for _, e := range sortedDict(v.dict) {
			encodeInto(buf, Str(e.Key))
			encodeInto(buf, e.Value)
		}
		buf.WriteByte('e')
	}
}

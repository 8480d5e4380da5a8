package shortrange

import "fmt"

// BulkKind tags what a bulk transfer carries.
type BulkKind int

const (
	BulkImage BulkKind = iota + 1
	BulkConfigFile
)

func (k BulkKind) String() string {
	switch k {
	case BulkImage:
		return "image"
	case BulkConfigFile:
		return "file"
	default:
		return fmt.Sprintf("BulkKind(%d)", int(k))
	}
}

// Transfer is the single in-flight bulk payload. The buffer is a private copy
// so the caller may reuse its slice immediately.
type Transfer struct {
	kind   BulkKind
	buf    []byte
	offset int
}

func newTransfer(kind BulkKind, payload []byte) *Transfer {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	return &Transfer{kind: kind, buf: buf}
}

func (t *Transfer) Kind() BulkKind { return t.kind }
func (t *Transfer) Total() int     { return len(t.buf) }
func (t *Transfer) Offset() int    { return t.offset }
func (t *Transfer) Done() bool     { return t.offset >= len(t.buf) }

// next returns up to n bytes and advances the offset. The returned slice
// aliases the transfer buffer.
func (t *Transfer) next(n int) []byte {
	end := t.offset + n
	if end > len(t.buf) {
		end = len(t.buf)
	}
	seg := t.buf[t.offset:end]
	t.offset = end
	return seg
}

// SegmentCount is the number of segments a payload of size bytes needs.
func SegmentCount(size int) int {
	return (size + SegmentSize - 1) / SegmentSize
}

package tree

import (
	"github.com/rogerz/uffs/ffserr"
	"github.com/rogerz/uffs/internal/bitio"
)

// headerFixedSize is the fixed-field portion of an encoded header page's
// data payload: parent(2) + flags(1) + modify_time(8) + size(4) +
// name_len(2), followed by name_len bytes of name.
const headerFixedSize = 17

const flagIsDir = 1 << 0

// EncodeHeader serializes a node's directory-entry fields into a page's
// data payload, the data half of the file/directory header page (spec
// §3's "Header page" carries the node's metadata; the tag half is
// spare.PageTag). dst must be at least HeaderSize(n) bytes.
func EncodeHeader(n *Node, dst []byte) int {
	bitio.PutUint16(dst, 0, n.Parent)
	var flags byte
	if n.IsDir {
		flags |= flagIsDir
	}
	dst[2] = flags
	bitio.PutUint64(dst, 3, uint64(n.ModifyTime))
	bitio.PutUint32(dst, 11, n.Size)
	name := []byte(n.Name)
	bitio.PutUint16(dst, 15, uint16(len(name)))
	copy(dst[headerFixedSize:], name)
	return headerFixedSize + len(name)
}

// HeaderSize returns the encoded byte length of n's header payload.
func HeaderSize(n *Node) int {
	return headerFixedSize + len(n.Name)
}

// DecodeHeader parses a header page's data payload (length dataLen) into
// a Node with the given serial. It does not set HeaderBlk or BlockTS;
// the caller (mount's scan) fills those in from the page's physical
// location and tag.
func DecodeHeader(serial uint16, src []byte, dataLen int) (*Node, error) {
	if dataLen < headerFixedSize || len(src) < headerFixedSize {
		return nil, ffserr.New("tree.DecodeHeader", ffserr.IOError)
	}
	parent := bitio.Uint16(src, 0)
	flags := src[2]
	modifyTime := int64(bitio.Uint64(src, 3))
	size := bitio.Uint32(src, 11)
	nameLen := int(bitio.Uint16(src, 15))
	if headerFixedSize+nameLen > dataLen || headerFixedSize+nameLen > len(src) {
		return nil, ffserr.New("tree.DecodeHeader", ffserr.IOError)
	}
	name := string(src[headerFixedSize : headerFixedSize+nameLen])
	return &Node{
		Serial:     serial,
		Parent:     parent,
		IsDir:      flags&flagIsDir != 0,
		Name:       name,
		Size:       size,
		HeaderBlk:  NoBlock,
		ModifyTime: modifyTime,
	}, nil
}

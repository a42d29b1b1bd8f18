package object

import (
	"io"

	"github.com/rogerz/uffs/bufpool"
	"github.com/rogerz/uffs/ffserr"
)

// File is an open file handle, indexing into its FS's descriptor table.
type File struct {
	fs     *FS
	fd     int
	serial uint16

	pos         int64
	dirtyHeader bool
	closed      bool
}

// Read reads into p starting at the file's current position, returning
// io.EOF once it reaches the node's recorded size.
func (f *File) Read(p []byte) (int, error) {
	f.fs.m.Lock()
	defer f.fs.m.Unlock()
	f.fs.lastErr = noError

	node := f.fs.m.Tree.Node(f.serial)
	if node == nil {
		return 0, ffserr.New("object.File.Read", f.fs.fail(ffserr.NoEntry))
	}
	if f.pos >= int64(node.Size) {
		return 0, io.EOF
	}

	attrs := f.fs.m.Attrs()
	pageSize := attrs.PageDataSize
	read := 0

	for len(p) > 0 && f.pos < int64(node.Size) {
		globalPage := uint32(f.pos / int64(pageSize))
		offsetInPage := int(f.pos % int64(pageSize))
		logicalBlock := globalPage / uint32(attrs.PagesPerBlock)
		pageID := uint8(globalPage % uint32(attrs.PagesPerBlock))

		remaining := int64(node.Size) - f.pos
		want := pageSize - offsetInPage
		if int64(want) > remaining {
			want = int(remaining)
		}
		if want > len(p) {
			want = len(p)
		}

		data, err := f.readPage(logicalBlock, pageID)
		if err != nil {
			return read, err
		}
		n := copy(p[:want], data[offsetInPage:offsetInPage+want])
		p = p[n:]
		f.pos += int64(n)
		read += n
	}
	return read, nil
}

// readPage returns the current content of one data-block page, preferring
// a live buffer-pool entry over the flash copy.
func (f *File) readPage(logicalBlock uint32, pageID uint8) ([]byte, error) {
	if buf := f.fs.m.Pool.Find(f.serial, logicalBlock, pageID); buf != nil {
		return buf.Data, nil
	}
	entry, ok := f.fs.m.Tree.DataBlock(f.serial, logicalBlock)
	if !ok {
		return make([]byte, f.fs.m.Attrs().PageDataSize), nil
	}
	data, _, err := f.fs.m.Device.ReadPage(entry.Block, int(pageID))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write writes p at the file's current position, buffering pages through
// the pool and relying on its dirty-group cap to drive flushes (spec
// §4.3/§4.5).
func (f *File) Write(p []byte) (int, error) {
	f.fs.m.Lock()
	defer f.fs.m.Unlock()
	f.fs.lastErr = noError

	attrs := f.fs.m.Attrs()
	pageSize := attrs.PageDataSize
	written := 0

	for len(p) > 0 {
		globalPage := uint32(f.pos / int64(pageSize))
		offsetInPage := int(f.pos % int64(pageSize))
		logicalBlock := globalPage / uint32(attrs.PagesPerBlock)
		pageID := uint8(globalPage % uint32(attrs.PagesPerBlock))

		buf, err := f.fs.m.Pool.Acquire(f.serial, logicalBlock, pageID, false)
		if err != nil {
			return written, ffserr.Wrap("object.File.Write", f.fs.fail(ffserr.NoMemory), err)
		}
		if err := f.loadBuffer(buf, logicalBlock, pageID); err != nil {
			f.fs.m.Pool.Release(buf)
			return written, err
		}

		n := copy(buf.Data[offsetInPage:], p)
		if err := f.fs.m.Pool.MarkDirty(buf); err != nil {
			f.fs.m.Pool.Release(buf)
			return written, err
		}
		f.fs.m.Pool.Release(buf)

		p = p[n:]
		f.pos += int64(n)
		written += n
	}

	if node := f.fs.m.Tree.Node(f.serial); node != nil && f.pos > int64(node.Size) {
		node.Size = uint32(f.pos)
		f.dirtyHeader = true
	}
	if f.fs.m.Config().FlushAfterWrite {
		if err := f.flushLocked(); err != nil {
			return written, err
		}
	}
	return written, nil
}

// loadBuffer performs the read-modify-write load of spec §4.3's buffer
// acquire semantics: a buffer newly acquired for a partial-page write
// must first see the page's existing flash content, if any.
func (f *File) loadBuffer(buf *bufpool.Buffer, logicalBlock uint32, pageID uint8) error {
	if buf.Dirty || buf.Materialized() {
		return nil
	}
	entry, ok := f.fs.m.Tree.DataBlock(f.serial, logicalBlock)
	if !ok {
		return nil // brand new page, leave zero-filled
	}
	data, _, err := f.fs.m.Device.ReadPage(entry.Block, int(pageID))
	if err != nil {
		return err
	}
	copy(buf.Data, data)
	buf.SetPhysical(entry.Block, int(pageID))
	return nil
}

// Seek repositions the file per io.Seeker semantics.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.fs.m.Lock()
	defer f.fs.m.Unlock()
	f.fs.lastErr = noError

	node := f.fs.m.Tree.Node(f.serial)
	if node == nil {
		return 0, ffserr.New("object.File.Seek", f.fs.fail(ffserr.NoEntry))
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(node.Size)
	default:
		return 0, ffserr.New("object.File.Seek", f.fs.fail(ffserr.InvalidArg))
	}
	newPos := base + offset
	if newPos < 0 {
		return 0, ffserr.New("object.File.Seek", f.fs.fail(ffserr.InvalidArg))
	}
	f.pos = newPos
	return f.pos, nil
}

// Truncate resizes the file to size, reclaiming any data blocks entirely
// beyond the new size.
func (f *File) Truncate(size uint32) error {
	f.fs.m.Lock()
	defer f.fs.m.Unlock()
	f.fs.lastErr = noError

	node := f.fs.m.Tree.Node(f.serial)
	if node == nil {
		return ffserr.New("object.File.Truncate", f.fs.fail(ffserr.NoEntry))
	}
	attrs := f.fs.m.Attrs()
	blockBytes := uint32(attrs.PageDataSize) * uint32(attrs.PagesPerBlock)

	if size < node.Size {
		firstDeadBlock := size / blockBytes
		if size%blockBytes != 0 {
			firstDeadBlock++
		}
		for _, e := range f.fs.m.Tree.DataBlocksOf(f.serial) {
			if e.Key.Index >= firstDeadBlock {
				f.fs.m.Tree.RemoveDataBlock(f.serial, e.Key.Index)
				f.fs.m.Cache.Invalidate(uint32(e.Block))
				if err := f.fs.m.Device.EraseBlock(e.Block); err != nil {
					f.fs.m.Tree.MarkBad(e.Block)
				} else {
					f.fs.m.Tree.MarkErased(e.Block)
				}
			}
		}
	}
	node.Size = size
	f.dirtyHeader = true
	if f.pos > int64(size) {
		f.pos = int64(size)
	}
	return nil
}

// Flush durably persists every dirty page of this file and its header.
func (f *File) Flush() error {
	f.fs.m.Lock()
	defer f.fs.m.Unlock()
	f.fs.lastErr = noError
	return f.flushLocked()
}

func (f *File) flushLocked() error {
	if f.fs.m.Pool.DirtyGroupCount() > 0 {
		if _, _, ok := f.fs.m.Pool.GroupInfo(f.serial); ok {
			if err := f.fs.m.Pool.FlushGroup(f.serial); err != nil {
				return ffserr.Wrap("object.File.Flush", f.fs.fail(ffserr.IOError), err)
			}
		}
	}
	if f.dirtyHeader {
		node := f.fs.m.Tree.Node(f.serial)
		if node != nil {
			if err := f.fs.m.CommitHeader(node); err != nil {
				return ffserr.Wrap("object.File.Flush", f.fs.fail(ffserr.IOError), err)
			}
		}
		f.dirtyHeader = false
	}
	return nil
}

// Close flushes and releases the descriptor.
func (f *File) Close() error {
	f.fs.m.Lock()
	if f.closed {
		f.fs.m.Unlock()
		return ffserr.New("object.File.Close", f.fs.fail(ffserr.BadFD))
	}
	f.fs.m.Unlock()

	if err := f.Flush(); err != nil {
		return err
	}

	f.fs.m.Lock()
	defer f.fs.m.Unlock()
	f.closed = true
	f.fs.releaseFd(f.fd)
	return nil
}

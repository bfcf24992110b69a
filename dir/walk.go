package dir

import "github.com/bbanerjeerichards/blockfs/errs"

// DirectoryEntry is the result of resolving a path: the last segment's name
// and the inode number it points to.
type DirectoryEntry struct {
	InodeNumber uint32
	Name        []byte
}

// Lookaside reads the payload of a directory given its inode number, and
// reports whether that inode is itself a directory. Disk implements this to
// let Walk stay free of any on-disk I/O concerns.
type Lookaside func(inodeNumber uint32) (payload []byte, isDirectory bool, err error)

// Walk resolves a '/'-separated path by chaining directory lookups,
// starting from rootPayload (the decoded bytes of the starting directory).
// An empty path resolves to the starting directory itself, represented by
// rootInode. Each segment is looked up in the current directory, its inode
// is read via fetch, and -- if it is itself a directory -- its payload
// becomes the next directory to search. The last resolved entry is
// returned; an absent segment fails with errs.InodeNotFound.
func Walk(fetch Lookaside, rootInode uint32, rootPayload []byte, path []byte) (DirectoryEntry, error) {
	current := rootPayload
	pos := 0
	last := DirectoryEntry{InodeNumber: rootInode}

	for {
		name, next, end, err := FindNextPathName(path, pos)
		if err != nil {
			return DirectoryEntry{}, err
		}
		if end {
			return last, nil
		}
		pos = next

		inodeNumber, err := Lookup(current, name)
		if err != nil {
			return DirectoryEntry{}, err
		}
		last = DirectoryEntry{InodeNumber: inodeNumber, Name: append([]byte{}, name...)}

		payload, isDirectory, err := fetch(inodeNumber)
		if err != nil {
			return DirectoryEntry{}, err
		}

		// If there's more path left, the segment we just resolved has to be
		// a directory for the walk to continue through it.
		if _, _, moreEnd, _ := FindNextPathName(path, pos); !moreEnd && !isDirectory {
			return DirectoryEntry{}, errs.New(errs.InodeNotFound)
		}
		current = payload
	}
}

// Package far reads FAR archives: flat, read-only, chunk based archives
// holding a sorted table of file paths and the file contents they address.
//
// An archive starts with an index chunk listing the other chunks:
//   - Directory chunk ("DIR-----"): fixed-size records naming each file by a
//     range of the path table and locating its content
//   - Directory names chunk ("DIRNAMES"): the concatenated path bytes
//
// Chunks are tightly packed and 8-byte aligned. [Open] validates the whole
// layout before exposing anything, so a [Reader] is always fully usable.
//
// # Quick Start
//
//	rc, err := far.OpenFile("app.far")
//	if err != nil {
//	    return err
//	}
//	defer rc.Close()
//
//	for p := range rc.Paths() {
//	    fmt.Println(p)
//	}
//	err = rc.ExtractToPath("meta/package", "/tmp/package")
//
// Untrusted archives that are already in memory can be decoded through a
// [BufferSource], which bounds every read by the buffer's declared size.
//
// The tree subpackage rebuilds the directory hierarchy and the farfs
// subpackage serves it.
package far

// Package dumpdir reads and writes crash dump directories.
//
// A dump directory stores one field per file: the file name is the field
// key and the file content is the value. Opening a directory takes an
// advisory lock so producers and the daemon never interleave writes; callers
// must Close the accessor before blocking on slow external work and reopen
// it afterwards.
package dumpdir

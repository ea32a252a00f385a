// Package asar reads and writes asar archives.
//
// An asar archive is a single container file made of a little-endian pickle
// holding the header length, a pickle holding a JSON directory tree, and the
// concatenated member contents. File entries record their size and an offset
// relative to the end of the header. Entries marked unpacked live next to the
// container under "<archive>.unpacked/" instead.
//
// Archive answers metadata questions from the parsed header and shares one
// open descriptor of the container for all readers. Members that must exist
// as real files (executables, native libraries) are copied out on demand into
// a per-archive temporary directory that is removed on Close.
package asar

// Package util provides the small shared building blocks of asarfs.
//
// Content digests:
//   - Digest is the streaming SHA-512 accumulator used for integrity checks.
//     Sum returns the standard base64 encoding of the 64 byte digest.
//   - HashReaderAt feeds a digest with fixed size positional reads so that a
//     descriptor shared with other readers is never seeked.
//
// Inodes:
//   - InodeCounter hands out monotonically increasing inode numbers for
//     synthesized stat results. The process-wide counter is the default,
//     tests inject their own.
//
// Buckets:
//   - BucketFor spreads extracted archive members over a fixed set of
//     directories using a color hash.
package util

// Package asarfs overlays asar archives on an ordinary filesystem.
//
// A path such as /app/resources/app.asar/lib/main.js is served from inside the
// archive /app/resources/app.asar while every other path passes through to the
// base filesystem untouched. The overlay is read-only: anything that would
// modify an archive member fails with ErrPermissionDenied or ErrNotADirectory.
//
// The pieces are:
//
//   - Classifier decides whether a path addresses an archive member.
//   - Registry opens each archive once and hands out the shared handle.
//   - Verifier checks SHA-512 digests of tracked files and archives on a
//     worker queue, after the access that triggered them.
//   - Context owns the three of them along with the inode counter and the
//     fake timestamp used for synthesized stats.
//   - FS is the afero.Fs decorator returned by Install.
//
// Integrity failures are fatal. They are delivered as *IntegrityFailure on
// Context.Fatal and on the completion channel of the check, and the embedding
// program is expected to stop. The asarfs command exits with status 1.
package asarfs

// Package restore defines the payloads of the restore-file operation and a
// reference executor that applies them to the local filesystem.
//
// A Job names one repository file and the member files bundled inside it.
// For each member the executor decides between three outcomes:
//
//   - preserve: delta restore found an existing file that already matches
//     (size and checksum, or size and timestamp under force)
//   - zero: the file is created at its recorded size without content
//   - copy: the member's section of the repository file is copied out,
//     decrypted when the job carries a passphrase, and verified against
//     the recorded checksum
//
// The decision per file is reported back as a FileResult so the caller can
// account for what was actually transferred.
package restore

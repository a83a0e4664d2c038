package restore

import (
	"fmt"
)

// Result describes what the executor did with a single file.
type Result uint8

const (
	// ResultPreserve means the existing file already matched and was kept.
	ResultPreserve Result = 0

	// ResultZero means the file was created empty or truncated to its
	// recorded size without copying content.
	ResultZero Result = 1

	// ResultCopy means the file content was copied out of the repository.
	ResultCopy Result = 2
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultPreserve:
		return "PRESERVE"
	case ResultZero:
		return "ZERO"
	case ResultCopy:
		return "COPY"
	default:
		return "UNKNOWN"
	}
}

// File describes one file to restore out of a repository file. Several
// files may be bundled into a single repository file, each at its own
// offset with a read limit.
//
// CBOR encoding uses integer keys:
//
//	{
//	  1: name,          // tstr: destination path, relative
//	  2: checksum,      // bstr: SHA-1 of the original content
//	  3: size,          // uint: original size in bytes
//	  4: timeModified,  // int: unix seconds
//	  5: mode,          // uint: permission bits
//	  6: zero,          // bool: write zeros instead of copying
//	  7: user,          // tstr: original owner
//	  8: group,         // tstr: original group
//	  9: offset,        // uint: start of content in the repo file
//	  10: limit,        // uint, optional: content length in the repo file
//	  11: manifestFile  // tstr: manifest key echoed back in the result
//	}
type File struct {
	Name         string  `cbor:"1,keyasint"`
	Checksum     []byte  `cbor:"2,keyasint,omitempty"`
	Size         uint64  `cbor:"3,keyasint"`
	TimeModified int64   `cbor:"4,keyasint"`
	Mode         uint32  `cbor:"5,keyasint"`
	Zero         bool    `cbor:"6,keyasint,omitempty"`
	User         string  `cbor:"7,keyasint,omitempty"`
	Group        string  `cbor:"8,keyasint,omitempty"`
	Offset       uint64  `cbor:"9,keyasint,omitempty"`
	Limit        *uint64 `cbor:"10,keyasint,omitempty"`
	ManifestFile string  `cbor:"11,keyasint"`
}

// Validate checks if the file entry is complete enough to restore.
func (f *File) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("file has no name")
	}
	if f.ManifestFile == "" {
		return fmt.Errorf("file %q has no manifest name", f.Name)
	}
	if !f.Zero && len(f.Checksum) == 0 {
		return fmt.Errorf("file %q has no checksum", f.Name)
	}
	return nil
}

// Job is one restore request: a set of files carried by a single
// repository file, plus the decisions that govern how existing files
// are treated.
//
// CBOR encoding uses integer keys:
//
//	{
//	  1: repoFile,       // tstr: repository file holding the content
//	  2: delta,          // bool: preserve files that already match
//	  3: deltaForce,     // bool: match on size and time instead of checksum
//	  4: copyTimeBegin,  // int: unix seconds, horizon for time matching
//	  5: cipherPass,     // tstr, optional: repository passphrase
//	  6: files           // array of File
//	}
type Job struct {
	RepoFile      string `cbor:"1,keyasint"`
	Delta         bool   `cbor:"2,keyasint,omitempty"`
	DeltaForce    bool   `cbor:"3,keyasint,omitempty"`
	CopyTimeBegin int64  `cbor:"4,keyasint,omitempty"`
	CipherPass    string `cbor:"5,keyasint,omitempty"`
	Files         []File `cbor:"6,keyasint"`
}

// Validate checks if the job is valid.
func (j *Job) Validate() error {
	if len(j.Files) == 0 {
		return fmt.Errorf("job has no files")
	}
	if j.DeltaForce && !j.Delta {
		return fmt.Errorf("deltaForce requires delta")
	}
	for i := range j.Files {
		f := &j.Files[i]
		if err := f.Validate(); err != nil {
			return err
		}
		if !f.Zero && j.RepoFile == "" {
			return fmt.Errorf("file %q needs content but job has no repo file", f.Name)
		}
	}
	return nil
}

// FileResult reports the outcome for one file of a job.
//
// CBOR encoding uses integer keys:
//
//	{
//	  1: manifestFile,  // tstr: matches File.ManifestFile
//	  2: result         // uint: 0=preserve, 1=zero, 2=copy
//	}
type FileResult struct {
	ManifestFile string `cbor:"1,keyasint"`
	Result       Result `cbor:"2,keyasint"`
}

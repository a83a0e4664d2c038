package restore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/coffer-backup/coffer-go/pkg/crypto"
)

// LocalExecutor restores files from a repository directory into a
// destination directory on the same host. It is the reference Executor
// used by the protocol server.
type LocalExecutor struct {
	// RepoDir is the root of the repository files referenced by jobs.
	RepoDir string

	// DestDir is the root the restored files are written under.
	DestDir string

	// Cipher is used to decrypt repository files when a job carries a
	// passphrase.
	Cipher crypto.CipherType
}

// NewLocalExecutor creates an executor restoring from repoDir into destDir.
func NewLocalExecutor(repoDir, destDir string) *LocalExecutor {
	return &LocalExecutor{
		RepoDir: repoDir,
		DestDir: destDir,
		Cipher:  crypto.AES256CBC,
	}
}

// Restore executes one job. Results are returned in job file order.
// The first file that cannot be restored fails the whole job.
func (e *LocalExecutor) Restore(ctx context.Context, job *Job) ([]FileResult, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	results := make([]FileResult, 0, len(job.Files))
	for i := range job.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		f := &job.Files[i]
		result, err := e.restoreFile(job, f)
		if err != nil {
			return nil, fmt.Errorf("restore %q: %w", f.Name, err)
		}
		results = append(results, FileResult{
			ManifestFile: f.ManifestFile,
			Result:       result,
		})
	}
	return results, nil
}

func (e *LocalExecutor) restoreFile(job *Job, f *File) (Result, error) {
	if !filepath.IsLocal(f.Name) {
		return 0, fmt.Errorf("name escapes the restore root")
	}
	dest := filepath.Join(e.DestDir, filepath.FromSlash(f.Name))

	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return 0, err
	}

	if f.Zero {
		if err := e.writeZero(dest, f); err != nil {
			return 0, err
		}
		return ResultZero, nil
	}

	if job.Delta && e.preserve(job, f, dest) {
		// Content matches. Timestamp may still be off when matching
		// was done by checksum.
		mtime := time.Unix(f.TimeModified, 0)
		if err := os.Chtimes(dest, mtime, mtime); err != nil {
			return 0, err
		}
		return ResultPreserve, nil
	}

	if err := e.copy(job, f, dest); err != nil {
		return 0, err
	}
	return ResultCopy, nil
}

// preserve reports whether the existing file at dest already matches the
// manifest entry and can be kept instead of copied.
func (e *LocalExecutor) preserve(job *Job, f *File, dest string) bool {
	info, err := os.Stat(dest)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if uint64(info.Size()) != f.Size {
		return false
	}

	if job.DeltaForce {
		// Force mode trusts size and timestamp, but only for files
		// last modified before the copy started. Anything newer may
		// have changed after the backup was taken.
		mtime := info.ModTime().Unix()
		return mtime == f.TimeModified && mtime < job.CopyTimeBegin
	}

	sum, err := checksumFile(dest)
	if err != nil {
		return false
	}
	return bytes.Equal(sum, f.Checksum)
}

func (e *LocalExecutor) writeZero(dest string, f *File) error {
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE, fs.FileMode(f.Mode))
	if err != nil {
		return err
	}
	if err := out.Truncate(int64(f.Size)); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return e.applyMeta(dest, f)
}

func (e *LocalExecutor) copy(job *Job, f *File, dest string) error {
	src, err := os.Open(filepath.Join(e.RepoDir, filepath.FromSlash(job.RepoFile)))
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}
	length := info.Size() - int64(f.Offset)
	if f.Limit != nil {
		length = int64(*f.Limit)
	}
	if length < 0 || int64(f.Offset) > info.Size() {
		return fmt.Errorf("section %d+%d outside repo file of %d bytes", f.Offset, length, info.Size())
	}

	var content io.Reader = io.NewSectionReader(src, int64(f.Offset), length)
	if job.CipherPass != "" {
		content, err = crypto.NewDecryptor(content, crypto.Config{
			Cipher:     e.Cipher,
			Passphrase: []byte(job.CipherPass),
		})
		if err != nil {
			return err
		}
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(f.Mode))
	if err != nil {
		return err
	}

	hash := sha1.New()
	written, err := io.Copy(io.MultiWriter(out, hash), content)
	if err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if uint64(written) != f.Size {
		return fmt.Errorf("copied %d bytes, expected %d", written, f.Size)
	}
	if sum := hash.Sum(nil); !bytes.Equal(sum, f.Checksum) {
		return fmt.Errorf("checksum mismatch after copy")
	}

	return e.applyMeta(dest, f)
}

// applyMeta restores mode, ownership, and timestamp. Ownership is only
// attempted when running as root, matching how the original files were
// recorded.
func (e *LocalExecutor) applyMeta(dest string, f *File) error {
	if err := os.Chmod(dest, fs.FileMode(f.Mode)); err != nil {
		return err
	}

	if os.Geteuid() == 0 && f.User != "" {
		uid, gid := lookupOwner(f.User, f.Group)
		if uid >= 0 {
			if err := os.Chown(dest, uid, gid); err != nil {
				return err
			}
		}
	}

	mtime := time.Unix(f.TimeModified, 0)
	return os.Chtimes(dest, mtime, mtime)
}

// lookupOwner resolves user and group names to IDs. Returns -1 for
// names that do not resolve.
func lookupOwner(userName, groupName string) (int, int) {
	uid, gid := -1, -1
	if u, err := user.Lookup(userName); err == nil {
		if id, err := strconv.Atoi(u.Uid); err == nil {
			uid = id
		}
		if id, err := strconv.Atoi(u.Gid); err == nil {
			gid = id
		}
	}
	if groupName != "" {
		if g, err := user.LookupGroup(groupName); err == nil {
			if id, err := strconv.Atoi(g.Gid); err == nil {
				gid = id
			}
		}
	}
	return uid, gid
}

func checksumFile(path string) ([]byte, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	hash := sha1.New()
	if _, err := io.Copy(hash, in); err != nil {
		return nil, err
	}
	return hash.Sum(nil), nil
}

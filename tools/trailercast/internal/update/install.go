package update

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/inconshreveable/go-update"
)

// Reporter receives progress messages while an update runs.
type Reporter interface {
	Info(format string, a ...interface{})
	Warn(format string, a ...interface{})
	Success(format string, a ...interface{})
}

func exeName() string {
	if runtime.GOOS == "windows" {
		return binaryName + ".exe"
	}
	return binaryName
}

// goreleaser names amd64 archives x86_64.
func archName(goarch string) string {
	if goarch == "amd64" {
		return "x86_64"
	}
	return goarch
}

func getAssetName(goos, arch string) string {
	ext := "tar.gz"
	if goos == "windows" {
		ext = "zip"
	}
	return fmt.Sprintf("%s_%s_%s.%s", repoName, goos, arch, ext)
}

func download(url string) ([]byte, error) {
	resp, err := httpClient.Get(url) // #nosec G107 -- url comes from the release listing.
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download of %s returned %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// expectedChecksum finds name in a goreleaser checksums.txt ("<hex>  <name>" per line).
func expectedChecksum(sums []byte, name string) ([]byte, error) {
	sc := bufio.NewScanner(bytes.NewReader(sums))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[1] == name {
			return hex.DecodeString(fields[0])
		}
	}
	return nil, fmt.Errorf("no checksum listed for %s", name)
}

func extractFileFromArchive(body io.Reader, filename string) (io.Reader, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	var bin []byte
	if strings.HasSuffix(filename, ".zip") {
		bin, err = fromZip(data, exeName())
	} else {
		bin, err = fromTarGz(data, exeName())
	}
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(bin), nil
}

func fromZip(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("bad zip archive: %w", err)
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || filepath.Base(f.Name) != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}

func fromTarGz(data []byte, name string) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("bad gzip stream: %w", err)
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s not found in archive", name)
		}
		if err != nil {
			return nil, fmt.Errorf("bad tar archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg && filepath.Base(hdr.Name) == name {
			return io.ReadAll(tr)
		}
	}
}

// ApplyUpdate replaces the running executable with the latest release. When the
// release publishes checksums.txt the extracted archive's digest is verified first.
func ApplyUpdate(r Reporter, current string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}
	if strings.Contains(exe, "go-build") {
		r.Warn("Cannot update a binary started with `go run`. Build or install it first.")
		return nil
	}
	if isDevBuild(current) {
		r.Warn("Cannot update a development build.")
		return nil
	}

	r.Info("Checking for latest version...")
	rel, ok, err := newer(current)
	if err != nil {
		return err
	}
	if !ok {
		r.Success("trailercast %s is the latest version.", current)
		return nil
	}

	opts := update.Options{}
	if err := opts.CheckPermissions(); err != nil {
		return fmt.Errorf("cannot replace %s: %w", exe, err)
	}

	name := getAssetName(runtime.GOOS, archName(runtime.GOARCH))
	url := rel.find(name)
	if url == "" {
		return fmt.Errorf("release %s has no asset %s for this platform", rel.Tag, name)
	}
	r.Info("Downloading %s (%s -> %s)", name, current, rel.Tag)
	archive, err := download(url)
	if err != nil {
		return err
	}

	if sumsURL := rel.find(checksumsName); sumsURL != "" {
		sums, err := download(sumsURL)
		if err != nil {
			return fmt.Errorf("could not fetch checksums: %w", err)
		}
		want, err := expectedChecksum(sums, name)
		if err != nil {
			return err
		}
		// The listed digest covers the archive, not the extracted binary.
		if got := sha256.Sum256(archive); !bytes.Equal(got[:], want) {
			return fmt.Errorf("checksum mismatch for %s", name)
		}
	} else {
		r.Warn("Release %s publishes no %s; skipping verification.", rel.Tag, checksumsName)
	}

	bin, err := extractFileFromArchive(bytes.NewReader(archive), name)
	if err != nil {
		return err
	}
	if err := update.Apply(bin, opts); err != nil {
		if rerr := update.RollbackError(err); rerr != nil {
			return fmt.Errorf("update failed and rollback failed: %w", rerr)
		}
		return fmt.Errorf("update failed: %w", err)
	}
	r.Success("Updated to %s. Re-run your command if it was not 'update'.", rel.Tag)
	return nil
}

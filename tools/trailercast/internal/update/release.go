// Package update checks GitHub releases and replaces the running binary.
package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	repoName      = "trailercast"
	binaryName    = "trailercast"
	checksumsName = "checksums.txt"
)

var latestReleaseURL = "https://api.github.com/repos/perpetuallyhorni/trailercast/releases/latest"

var httpClient = &http.Client{Timeout: 5 * time.Minute}

type asset struct {
	Name string `json:"name"`
	URL  string `json:"browser_download_url"`
}

type release struct {
	Tag    string  `json:"tag_name"`
	Assets []asset `json:"assets"`
}

// find returns the download URL of the named asset, or "".
func (r *release) find(name string) string {
	for _, a := range r.Assets {
		if a.Name == name {
			return a.URL
		}
	}
	return ""
}

// version is major, minor, patch. Pre-release and build suffixes are dropped.
type version [3]int

func parseVersion(s string) (version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return version{}, fmt.Errorf("invalid version format: %s", s)
	}
	var v version
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return version{}, fmt.Errorf("invalid version component %q in %s", p, s)
		}
		v[i] = n
	}
	return v, nil
}

func (v version) lessThan(o version) bool {
	for i := range v {
		if v[i] != o[i] {
			return v[i] < o[i]
		}
	}
	return false
}

func fetchLatest() (*release, error) {
	req, err := http.NewRequest(http.MethodGet, latestReleaseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("release lookup failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release lookup returned %s", resp.Status)
	}
	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("malformed release response: %w", err)
	}
	return &rel, nil
}

// newer fetches the latest release and reports whether it is newer than current.
func newer(current string) (*release, bool, error) {
	cur, err := parseVersion(current)
	if err != nil {
		return nil, false, fmt.Errorf("current version: %w", err)
	}
	rel, err := fetchLatest()
	if err != nil {
		return nil, false, err
	}
	latest, err := parseVersion(rel.Tag)
	if err != nil {
		return nil, false, fmt.Errorf("latest release tag: %w", err)
	}
	return rel, cur.lessThan(latest), nil
}

func isDevBuild(v string) bool {
	return v == "" || v == "dev"
}

// CheckForUpdate returns the tag of a newer release, or "" when current is up to date
// or a development build.
func CheckForUpdate(current string) (string, error) {
	if isDevBuild(current) {
		return "", nil
	}
	rel, ok, err := newer(current)
	if err != nil || !ok {
		return "", err
	}
	return rel.Tag, nil
}

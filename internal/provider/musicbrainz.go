package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/franz/music-curator/internal/util"
)

const (
	// MBBaseURL is the MusicBrainz API base URL
	MBBaseURL = "https://musicbrainz.org/ws/2"

	// MBUserAgent identifies this application to MusicBrainz
	// MusicBrainz requires a proper user agent
	MBUserAgent = "music-curator/1.0.0 (https://github.com/franz/music-curator)"

	// MBRateLimit is the maximum request rate (MusicBrainz requirement)
	MBRateLimit = 1 * time.Second

	// mbClientVersion participates in cache keys; bump when response mapping
	// changes so stale cached shapes stop matching
	mbClientVersion = "mb-1"
)

// MusicBrainzClient implements Client against the MusicBrainz web service
// with the mandatory 1 req/s rate limit.
type MusicBrainzClient struct {
	httpClient  *http.Client
	userAgent   string
	rateLimiter *time.Ticker
	baseURL     string
}

// NewMusicBrainzClient creates a new MusicBrainz API client
func NewMusicBrainzClient() *MusicBrainzClient {
	return &MusicBrainzClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent:   MBUserAgent,
		rateLimiter: time.NewTicker(MBRateLimit),
		baseURL:     MBBaseURL,
	}
}

// Close releases resources used by the client
func (c *MusicBrainzClient) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}

// Name returns "musicbrainz"
func (c *MusicBrainzClient) Name() string { return "musicbrainz" }

// Version returns the client version used in cache keys
func (c *MusicBrainzClient) Version() string { return mbClientVersion }

type mbReleaseSearchResult struct {
	Releases []mbRelease `json:"releases"`
	Count    int         `json:"count"`
}

type mbRelease struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Date         string `json:"date"`
	ArtistCredit []struct {
		Name string `json:"name"`
	} `json:"artist-credit"`
	Media []struct {
		Position int `json:"position"`
		Tracks   []struct {
			Position  int    `json:"position"`
			Title     string `json:"title"`
			Length    int    `json:"length"`
			Recording struct {
				ID string `json:"id"`
			} `json:"recording"`
		} `json:"tracks"`
	} `json:"media"`
}

// SearchByFingerprints looks up releases whose recordings match the given
// fingerprint ids. MusicBrainz resolves fingerprints through recording ids,
// so the query goes against the recording index and results are grouped by
// release.
func (c *MusicBrainzClient) SearchByFingerprints(ctx context.Context, fingerprintIDs []string) ([]Release, error) {
	if len(fingerprintIDs) == 0 {
		return nil, fmt.Errorf("fingerprint id list cannot be empty")
	}

	terms := make([]string, 0, len(fingerprintIDs))
	for _, id := range fingerprintIDs {
		if id != "" {
			terms = append(terms, fmt.Sprintf("rid:%s", id))
		}
	}
	if len(terms) == 0 {
		return nil, nil
	}

	query := strings.Join(terms, " OR ")
	return c.searchReleases(ctx, query)
}

// SearchByMetadata looks up releases by artist/album text and track count
func (c *MusicBrainzClient) SearchByMetadata(ctx context.Context, artist, album string, trackCount int) ([]Release, error) {
	var terms []string
	if artist != "" {
		terms = append(terms, fmt.Sprintf(`artist:"%s"`, artist))
	}
	if album != "" {
		terms = append(terms, fmt.Sprintf(`release:"%s"`, album))
	}
	if trackCount > 0 {
		terms = append(terms, "tracks:"+strconv.Itoa(trackCount))
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("metadata search requires at least one of artist, album, track count")
	}

	return c.searchReleases(ctx, strings.Join(terms, " AND "))
}

func (c *MusicBrainzClient) searchReleases(ctx context.Context, query string) ([]Release, error) {
	c.waitForRateLimit()

	urlStr := fmt.Sprintf("%s/release/?query=%s&fmt=json&limit=10&inc=recordings",
		c.baseURL, url.QueryEscape(query))

	util.DebugLog("MusicBrainz API: release search %q", query)

	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 503 {
		return nil, fmt.Errorf("MusicBrainz service unavailable (503) - rate limit exceeded or maintenance")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	var result mbReleaseSearchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	releases := make([]Release, 0, len(result.Releases))
	for _, r := range result.Releases {
		releases = append(releases, c.mapRelease(r))
	}

	util.DebugLog("MusicBrainz: %d releases for %q", len(releases), query)
	return releases, nil
}

func (c *MusicBrainzClient) mapRelease(r mbRelease) Release {
	rel := Release{
		Provider: c.Name(),
		ID:       r.ID,
		Title:    r.Title,
	}
	if len(r.ArtistCredit) > 0 {
		rel.Artist = r.ArtistCredit[0].Name
	}
	if len(r.Date) >= 4 {
		rel.Year = r.Date[:4]
	}
	for _, medium := range r.Media {
		disc := medium.Position
		if disc == 0 {
			disc = 1
		}
		for _, t := range medium.Tracks {
			rel.Tracks = append(rel.Tracks, ReleaseTrack{
				Disc:        disc,
				Position:    t.Position,
				Title:       t.Title,
				RecordingID: t.Recording.ID,
				DurationMS:  t.Length,
			})
		}
	}
	return rel
}

// waitForRateLimit blocks until the next request slot (1 req/sec)
func (c *MusicBrainzClient) waitForRateLimit() {
	<-c.rateLimiter.C
}

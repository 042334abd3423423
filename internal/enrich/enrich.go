// Package enrich fetches social profiles for a list of usernames and
// stores them as profile records.
//
// Profiles are served from a 7-day profile cache when possible. A whole
// run is fingerprinted, so repeating an identical request inside the
// fingerprint retention window replays the earlier report instead of
// fetching again. Only runs in which every username succeeded are
// remembered this way.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/fandomvelocity/internal/clock"
	"github.com/roach88/fandomvelocity/internal/fingerprint"
	"github.com/roach88/fandomvelocity/internal/records"
	"github.com/roach88/fandomvelocity/internal/ttlcache"
)

// Mode selects what is fetched per username.
type Mode string

const (
	ModeEnrich    Mode = "enrich"
	ModeFollowers Mode = "followers"
)

const (
	// RecordTypeProfile is the record type of stored profiles.
	RecordTypeProfile = "profile"

	// DefaultPlatform is stamped on profiles that do not name one.
	DefaultPlatform = "instagram"

	// Operation is the fingerprint operation name of a run.
	Operation = "enrich"

	// DefaultFollowerLimit caps follower lists when the request sets none.
	DefaultFollowerLimit = 100
)

// ErrInvalidRequest is returned for requests that cannot be run.
var ErrInvalidRequest = errors.New("invalid enrich request")

// Profile is a fetched profile document. Field names are whatever the
// provider returns, plus platform and scrapedAt.
type Profile map[string]any

// ProfileFetcher looks a profile up by username.
type ProfileFetcher interface {
	Fetch(ctx context.Context, username string) (Profile, error)
}

// FollowerFetcher is implemented by fetchers that can list followers.
// It is used in ModeFollowers only.
type FollowerFetcher interface {
	Followers(ctx context.Context, username string, limit int) ([]Profile, error)
}

// FetcherFunc adapts a function to ProfileFetcher.
type FetcherFunc func(ctx context.Context, username string) (Profile, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, username string) (Profile, error) {
	return f(ctx, username)
}

// Request is one enrichment run.
type Request struct {
	DatasetID string   `json:"datasetId"`
	Usernames []string `json:"usernames"`
	Mode      Mode     `json:"mode"`
	Limit     int      `json:"limit,omitempty"` // follower limit
}

// Result is the outcome for one username.
type Result struct {
	Username string `json:"username"`
	RecordID string `json:"recordId,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	DatasetID   string    `json:"datasetId"`
	Mode        Mode      `json:"mode"`
	Fingerprint string    `json:"fingerprint"`
	Results     []Result  `json:"results"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	CompletedAt time.Time `json:"completedAt"`
	Replayed    bool      `json:"replayed,omitempty"`
}

// Enricher runs enrichment requests.
type Enricher struct {
	records  *records.RecordStore
	fetcher  ProfileFetcher
	profiles *ttlcache.Cache[Profile]
	runs     *fingerprint.Cache
	runTTL   time.Duration
	delay    time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithRunTTL sets how long a successful run is replayable. Zero uses the
// fingerprint cache's default retention.
func WithRunTTL(d time.Duration) Option {
	return func(e *Enricher) {
		e.runTTL = d
	}
}

// WithDelay waits d between provider fetches. Cache hits are not delayed.
func WithDelay(d time.Duration) Option {
	return func(e *Enricher) {
		e.delay = d
	}
}

// WithClock sets the clock used for scrapedAt stamps.
func WithClock(c clock.Clock) Option {
	return func(e *Enricher) {
		e.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enricher) {
		e.logger = l
	}
}

// New creates an Enricher. All dependencies are required.
func New(
	rs *records.RecordStore,
	fetcher ProfileFetcher,
	profiles *ttlcache.Cache[Profile],
	runs *fingerprint.Cache,
	opts ...Option,
) *Enricher {
	e := &Enricher{
		records:  rs,
		fetcher:  fetcher,
		profiles: profiles,
		runs:     runs,
		clock:    clock.Real(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run enriches every username in req. Provider failures are reported
// per username and do not stop the run; store failures abort it.
func (e *Enricher) Run(ctx context.Context, req Request) (Report, error) {
	req, err := normalizeRequest(req)
	if err != nil {
		return Report{}, err
	}

	fp, err := fingerprint.Compute(Operation, req)
	if err != nil {
		return Report{}, fmt.Errorf("enrich: %w", err)
	}

	prior, ok, err := e.runs.Get(ctx, fp)
	if err != nil {
		return Report{}, fmt.Errorf("enrich: %w", err)
	}
	if ok {
		var report Report
		if err := json.Unmarshal(prior.Result, &report); err == nil {
			report.Replayed = true
			e.logger.Info("replayed enrichment run",
				"dataset_id", req.DatasetID,
				"fingerprint", fp,
				"usernames", len(req.Usernames))
			return report, nil
		}
		e.logger.Warn("discarding unreadable enrichment report", "fingerprint", fp)
	}

	report := Report{DatasetID: req.DatasetID, Mode: req.Mode, Fingerprint: fp}
	fetched := 0
	for _, username := range req.Usernames {
		res, didFetch, err := e.enrichOne(ctx, req, username, fetched > 0)
		if err != nil {
			return Report{}, err
		}
		if didFetch {
			fetched++
		}
		if res.Error != "" {
			report.Failed++
			e.logger.Warn("profile enrichment failed", "username", username, "error", res.Error)
		} else {
			report.Succeeded++
		}
		report.Results = append(report.Results, res)
	}
	report.CompletedAt = e.clock.Now().UTC()

	if report.Failed == 0 {
		payload, err := json.Marshal(report)
		if err != nil {
			return Report{}, fmt.Errorf("enrich: %w", err)
		}
		if err := e.runs.Put(ctx, fp, fingerprint.Record{
			Operation: Operation,
			Result:    payload,
			Metadata:  map[string]string{"datasetId": req.DatasetID, "mode": string(req.Mode)},
			TTL:       e.runTTL,
		}); err != nil {
			return Report{}, fmt.Errorf("enrich: %w", err)
		}
	}

	e.logger.Info("enrichment run complete",
		"dataset_id", req.DatasetID,
		"mode", req.Mode,
		"succeeded", report.Succeeded,
		"failed", report.Failed)
	return report, nil
}

// enrichOne returns a failed Result for provider errors and a non-nil
// error only for store failures. The bool reports whether the provider
// was called; throttle delays that call.
func (e *Enricher) enrichOne(ctx context.Context, req Request, username string, throttle bool) (Result, bool, error) {
	res := Result{Username: username}
	key := strings.ToLower(username)

	profile, hit, err := e.profiles.Get(ctx, key)
	if err != nil {
		return Result{}, false, fmt.Errorf("enrich %s: %w", username, err)
	}

	fetched := false
	if hit {
		res.Cached = true
	} else {
		if throttle {
			if err := e.wait(ctx); err != nil {
				return Result{}, false, err
			}
		}
		fetched = true
		profile, err = e.fetcher.Fetch(ctx, username)
		if err != nil {
			res.Error = err.Error()
			return res, fetched, nil
		}
		if profile == nil {
			res.Error = "provider returned no profile"
			return res, fetched, nil
		}
		profile = normalizeProfile(profile, username, e.clock.Now())
		if err := e.profiles.Set(ctx, key, profile, 0); err != nil {
			return Result{}, fetched, fmt.Errorf("enrich %s: %w", username, err)
		}
	}

	if req.Mode == ModeFollowers {
		ff, ok := e.fetcher.(FollowerFetcher)
		if !ok {
			res.Error = "provider cannot list followers"
			return res, fetched, nil
		}
		followers, err := ff.Followers(ctx, username, req.Limit)
		if err != nil {
			res.Error = err.Error()
			return res, fetched, nil
		}
		profile = withFollowers(profile, followers)
	}

	payload, err := json.Marshal(profile)
	if err != nil {
		res.Error = fmt.Sprintf("encode profile: %v", err)
		return res, fetched, nil
	}

	platform, _ := profile["platform"].(string)
	rec := records.LogicalRecord{
		ID:         ProfileRecordID(req.DatasetID, username),
		DatasetID:  req.DatasetID,
		RecordType: RecordTypeProfile,
		Platform:   platform,
		Payload:    payload,
	}
	if _, err := e.records.Write(ctx, rec); err != nil {
		return Result{}, fetched, fmt.Errorf("enrich %s: %w", username, err)
	}
	res.RecordID = rec.ID
	return res, fetched, nil
}

func (e *Enricher) wait(ctx context.Context) error {
	if e.delay <= 0 {
		return nil
	}
	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ProfileRecordID is the record id of username's profile in a dataset.
func ProfileRecordID(datasetID, username string) string {
	return datasetID + "/profile/" + strings.ToLower(username)
}

func normalizeRequest(req Request) (Request, error) {
	req.DatasetID = strings.TrimSpace(req.DatasetID)
	if req.DatasetID == "" {
		return Request{}, fmt.Errorf("%w: dataset id is required", ErrInvalidRequest)
	}

	switch req.Mode {
	case "":
		req.Mode = ModeEnrich
	case ModeEnrich, ModeFollowers:
	default:
		return Request{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	if req.Mode == ModeFollowers && req.Limit <= 0 {
		req.Limit = DefaultFollowerLimit
	}
	if req.Mode == ModeEnrich {
		req.Limit = 0
	}

	seen := make(map[string]bool, len(req.Usernames))
	usernames := make([]string, 0, len(req.Usernames))
	for _, u := range req.Usernames {
		u = strings.TrimPrefix(strings.TrimSpace(u), "@")
		if u == "" || seen[strings.ToLower(u)] {
			continue
		}
		seen[strings.ToLower(u)] = true
		usernames = append(usernames, u)
	}
	if len(usernames) == 0 {
		return Request{}, fmt.Errorf("%w: no usernames", ErrInvalidRequest)
	}
	req.Usernames = usernames
	return req, nil
}

// normalizeProfile returns a copy of p with platform, username and
// scrapedAt filled in.
func normalizeProfile(p Profile, username string, now time.Time) Profile {
	out := make(Profile, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	if s, _ := out["platform"].(string); s == "" {
		out["platform"] = DefaultPlatform
	}
	if s, _ := out["username"].(string); s == "" {
		out["username"] = username
	}
	out["scrapedAt"] = now.UTC().Format(time.RFC3339)
	return out
}

func withFollowers(p Profile, followers []Profile) Profile {
	out := make(Profile, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	if followers == nil {
		followers = []Profile{}
	}
	out["followersList"] = followers
	return out
}

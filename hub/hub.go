// Copyright (c) Josh Fairhead. All rights reserved.
// Licensed under the MIT License. See License.txt in the project root for license information.

// Package hub downloads files from the Hugging Face Hub into the standard
// local cache layout (blobs, snapshots, refs) used by the official clients.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
)

const (
	// DefaultEndpoint is the public Hugging Face Hub endpoint.
	DefaultEndpoint = "https://huggingface.co"

	// DefaultRevision is the revision used when none is given.
	DefaultRevision = "main"

	// DefaultMaxRetries is the number of download attempts per file.
	DefaultMaxRetries = 4

	// DefaultRetryDelay is the initial backoff delay between attempts.
	// The delay doubles after every failed attempt.
	DefaultRetryDelay = 2 * time.Second
)

// ErrNotFound reports a file or repository absent from the hub. Download
// does not retry it.
var ErrNotFound = errors.New("not found on the hub")

// Cache manages the on-disk layout of downloaded hub files.
//
// The layout matches the official clients:
//
//	<root>/models--org--name/blobs/<etag>
//	<root>/models--org--name/snapshots/<commit>/<filename>
//	<root>/models--org--name/refs/<revision>
//	<root>/tmp/<etag>.incomplete
type Cache struct {
	path   string
	resume bool
}

// NewCache creates a Cache rooted at path. When resume is true, interrupted
// downloads pick up where they left off.
func NewCache(path string, resume bool) *Cache {
	return &Cache{path: path, resume: resume}
}

// DefaultCache resolves the cache root from HF_HOME, falling back to
// ~/.cache/huggingface/hub.
func DefaultCache() (*Cache, error) {
	home := os.Getenv("HF_HOME")
	if home == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(userHome, ".cache", "huggingface")
	}
	return NewCache(filepath.Join(home, "hub"), true), nil
}

// Path returns the cache root directory.
func (c *Cache) Path() string {
	return c.path
}

// TokenPath returns the location of the hub auth token file.
func (c *Cache) TokenPath() string {
	return filepath.Join(filepath.Dir(c.path), "token")
}

// Token reads the auth token from the HF_TOKEN environment variable or,
// failing that, from the token file next to the cache. A missing token is
// not an error; anonymous access works for public repositories.
func (c *Cache) Token() (string, error) {
	if tok := os.Getenv("HF_TOKEN"); tok != "" {
		return tok, nil
	}

	data, err := os.ReadFile(c.TokenPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Model returns the cache view of a model repository.
func (c *Cache) Model(modelID string) *CacheRepo {
	return c.Repo(NewRepo(modelID))
}

// Repo returns the cache view of the given repository.
func (c *Cache) Repo(repo *Repo) *CacheRepo {
	return &CacheRepo{cache: c.clone(), repo: repo}
}

// TempPath allocates a path under the cache tmp directory. With resume
// enabled the name is stable so a later attempt appends to the same file.
func (c *Cache) TempPath(filename string) (string, error) {
	dir := filepath.Join(c.path, "tmp")
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", err
	}

	switch {
	case filename == "":
		return filepath.Join(dir, randStr(7)), nil
	case c.resume:
		return filepath.Join(dir, filename+".incomplete"), nil
	default:
		return filepath.Join(dir, filename+randStr(7)), nil
	}
}

func (c *Cache) clone() *Cache {
	clone := *c
	return &clone
}

// CacheRepo is the cache view of a single repository.
type CacheRepo struct {
	cache *Cache
	repo  *Repo
}

// Get returns the absolute snapshot path of filename for the cached
// revision. It fails with os.ErrNotExist when the file has not been
// downloaded yet.
func (r *CacheRepo) Get(filename string) (string, error) {
	commitHash, err := os.ReadFile(r.refPath())
	if err != nil {
		return "", err
	}

	path := filepath.Join(r.PointerPath(string(commitHash)), filename)
	if _, err = os.Stat(path); err != nil {
		return "", err
	}

	return filepath.Abs(path)
}

// CreateRef records commitHash as the resolved commit for the revision.
func (r *CacheRepo) CreateRef(commitHash string) error {
	refPath := r.refPath()
	if err := os.MkdirAll(filepath.Dir(refPath), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(refPath, []byte(commitHash), os.ModePerm)
}

// BlobPath returns the content-addressed blob location for an etag.
func (r *CacheRepo) BlobPath(etag string) string {
	return filepath.Join(r.path(), "blobs", etag)
}

// PointerPath returns the snapshot directory for a commit hash.
func (r *CacheRepo) PointerPath(commitHash string) string {
	return filepath.Join(r.path(), "snapshots", commitHash)
}

func (r *CacheRepo) path() string {
	return filepath.Join(r.cache.path, r.repo.FolderName())
}

func (r *CacheRepo) refPath() string {
	return filepath.Join(r.path(), "refs", r.repo.Revision())
}

// Repo identifies a model repository on the hub at a given revision.
type Repo struct {
	id       string
	revision string
}

// NewRepo creates a Repo pinned to the main revision.
func NewRepo(id string) *Repo {
	return NewRepoWithRevision(id, DefaultRevision)
}

// NewRepoWithRevision creates a Repo pinned to a branch, tag or commit.
func NewRepoWithRevision(id, revision string) *Repo {
	return &Repo{id: id, revision: revision}
}

// ID returns the repository id, e.g. "sentence-transformers/all-MiniLM-L6-v2".
func (r *Repo) ID() string {
	return r.id
}

// Revision returns the pinned revision.
func (r *Repo) Revision() string {
	return r.revision
}

// FolderName returns the normalized folder name of the repo within the
// cache directory, e.g. "models--sentence-transformers--all-MiniLM-L6-v2".
func (r *Repo) FolderName() string {
	return "models--" + strings.ReplaceAll(r.id, "/", "--")
}

func (r *Repo) urlRevision() string {
	return strings.ReplaceAll(r.revision, "/", "%2F")
}

func (r *Repo) apiPath() string {
	return fmt.Sprintf("models/%s/revision/%s", r.id, r.urlRevision())
}

// Builder assembles a Client.
type Builder struct {
	endpoint   string
	cache      *Cache
	token      string
	progress   bool
	maxRetries int
	retryDelay time.Duration
}

// NewBuilder creates a Builder backed by the default cache. The endpoint
// is taken from HF_ENDPOINT when set.
func NewBuilder() (*Builder, error) {
	cache, err := DefaultCache()
	if err != nil {
		return nil, err
	}
	return FromCache(cache)
}

// FromCache creates a Builder backed by an explicit cache.
func FromCache(cache *Cache) (*Builder, error) {
	endpoint := os.Getenv("HF_ENDPOINT")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	token, err := cache.Token()
	if err != nil {
		return nil, err
	}

	return &Builder{
		endpoint:   endpoint,
		cache:      cache,
		token:      token,
		progress:   true,
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
	}, nil
}

// WithEndpoint overrides the hub endpoint.
func (b *Builder) WithEndpoint(endpoint string) *Builder {
	if endpoint != "" {
		b.endpoint = strings.TrimRight(endpoint, "/")
	}
	return b
}

// WithCacheDir moves the cache to dir.
func (b *Builder) WithCacheDir(dir string) *Builder {
	b.cache = NewCache(dir, b.cache.resume)
	return b
}

// WithResume toggles download resumption.
func (b *Builder) WithResume(resume bool) *Builder {
	b.cache = NewCache(b.cache.path, resume)
	return b
}

// WithToken overrides the auth token.
func (b *Builder) WithToken(token string) *Builder {
	b.token = token
	return b
}

// WithProgress toggles the terminal progress bar.
func (b *Builder) WithProgress(progress bool) *Builder {
	b.progress = progress
	return b
}

// WithRetries overrides the download retry policy.
func (b *Builder) WithRetries(maxRetries int, initialDelay time.Duration) *Builder {
	if maxRetries > 0 {
		b.maxRetries = maxRetries
	}
	if initialDelay > 0 {
		b.retryDelay = initialDelay
	}
	return b
}

func (b *Builder) buildHeaders() http.Header {
	headers := make(http.Header)
	headers.Set("User-Agent", "systematics-embeddings/hub")
	if b.token != "" {
		headers.Set("Authorization", "Bearer "+b.token)
	}
	return headers
}

// Build assembles the Client.
func (b *Builder) Build() *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}

	// Metadata requests must observe the CDN redirect instead of following
	// it, so the etag and commit headers of the hub response stay visible.
	// Relative redirects within the hub itself are still followed.
	noRedirectClient := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			if shouldRedirect(req.Response.StatusCode) {
				if location := req.Response.Header.Get("Location"); location != "" && location[0] == '/' {
					base := req.URL
					next, err := url.Parse(base.Scheme + "://" + base.Host + location)
					if err != nil {
						return err
					}
					req.URL = next
					return nil
				}
			}
			return http.ErrUseLastResponse
		},
	}

	return &Client{
		endpoint:         b.endpoint,
		cache:            b.cache,
		headers:          b.buildHeaders(),
		client:           &http.Client{Transport: transport},
		noRedirectClient: noRedirectClient,
		progress:         b.progress,
		maxRetries:       b.maxRetries,
		retryDelay:       b.retryDelay,
	}
}

// Client talks to the hub and populates the cache.
type Client struct {
	endpoint         string
	cache            *Cache
	headers          http.Header
	client           *http.Client
	noRedirectClient *http.Client
	progress         bool
	maxRetries       int
	retryDelay       time.Duration
}

// NewClient creates a Client with default settings.
func NewClient() (*Client, error) {
	builder, err := NewBuilder()
	if err != nil {
		return nil, err
	}
	return builder.Build(), nil
}

// Endpoint returns the hub endpoint in use.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Model returns the hub view of a model repository at the main revision.
func (c *Client) Model(modelID string) *ModelRepo {
	return c.Repo(NewRepo(modelID))
}

// Repo returns the hub view of the given repository.
func (c *Client) Repo(repo *Repo) *ModelRepo {
	return &ModelRepo{client: c, repo: repo}
}

// fileMetadata describes a remote file before download.
type fileMetadata struct {
	commitHash string
	etag       string
	size       uint64
}

// metadata probes a file with a one-byte ranged request. The hub answers
// with the commit hash, the etag of the content (following the CDN link
// header when present) and the total size.
func (c *Client) metadata(ctx context.Context, fileURL string) (*fileMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = c.headers.Clone()
	req.Header.Set("Range", "bytes=0-0")

	res, err := c.noRedirectClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("metadata request for %s: %w", fileURL, ErrNotFound)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("metadata request for %s: status %d %s",
			fileURL, res.StatusCode, http.StatusText(res.StatusCode))
	}

	commitHash := res.Header.Get("x-repo-commit")
	if commitHash == "" {
		return nil, fmt.Errorf("metadata request for %s: missing x-repo-commit header", fileURL)
	}

	etag := res.Header.Get("x-linked-etag")
	if etag == "" {
		etag = res.Header.Get("etag")
	}
	if etag == "" {
		return nil, fmt.Errorf("metadata request for %s: missing etag header", fileURL)
	}
	etag = strings.ReplaceAll(etag, `"`, "")

	// A redirect means the content lives on the CDN; the size comes from
	// the redirect target.
	if res.StatusCode >= 300 && res.StatusCode < 400 {
		location := res.Header.Get("Location")
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		req.Header = c.headers.Clone()
		req.Header.Set("Range", "bytes=0-0")

		res, err = c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
	}

	contentRange := res.Header.Get("Content-Range")
	parts := strings.Split(contentRange, "/")
	totalStr := parts[len(parts)-1]
	if totalStr == "" {
		return nil, fmt.Errorf("metadata request for %s: missing Content-Range header", fileURL)
	}

	size, err := strconv.ParseUint(totalStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("metadata request for %s: parse size: %w", fileURL, err)
	}

	return &fileMetadata{commitHash: commitHash, etag: etag, size: size}, nil
}

// downloadTempFile streams fileURL into a cache temp file, resuming a
// previous partial download when possible. It returns the temp file path.
func (c *Client) downloadTempFile(ctx context.Context, fileURL string, meta *fileMetadata, bar *progressbar.ProgressBar) (string, error) {
	filename, err := c.cache.TempPath(meta.etag)
	if err != nil {
		return "", err
	}

	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return "", err
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}
	req.Header = c.headers.Clone()

	stat, err := file.Stat()
	if err != nil {
		return "", err
	}
	switch {
	case stat.Size() > 0 && uint64(stat.Size()) < meta.size:
		if bar != nil {
			_ = bar.Set64(stat.Size())
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", stat.Size()))
	case stat.Size() > 0:
		// A leftover temp file at or past the expected size is stale state
		// from an interrupted run. Appending to it would corrupt the blob,
		// so start over.
		if err = file.Truncate(0); err != nil {
			return "", err
		}
	}

	res, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("download %s: %w", fileURL, ErrNotFound)
	}
	if res.StatusCode >= 400 {
		return "", fmt.Errorf("download %s: status %d %s",
			fileURL, res.StatusCode, http.StatusText(res.StatusCode))
	}

	var w io.Writer = file
	if bar != nil {
		w = io.MultiWriter(file, bar)
	}

	if _, err = io.Copy(w, res.Body); err != nil {
		return "", err
	}

	// The temp file must hold exactly the advertised payload before it is
	// renamed into the blob store. A short file stays behind for resumption.
	if stat, err = file.Stat(); err != nil {
		return "", err
	}
	if uint64(stat.Size()) != meta.size {
		return "", fmt.Errorf("download %s: got %d bytes, want %d", fileURL, stat.Size(), meta.size)
	}

	return file.Name(), nil
}

// ModelRepo is the hub view of a single model repository.
type ModelRepo struct {
	client *Client
	repo   *Repo
}

// URL returns the resolve URL of filename at the pinned revision.
func (r *ModelRepo) URL(filename string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		r.client.endpoint, r.repo.id, r.repo.urlRevision(), filename)
}

// Get returns the local path of filename, downloading it on a cache miss.
func (r *ModelRepo) Get(ctx context.Context, filename string) (string, error) {
	path, err := r.client.cache.Repo(r.repo).Get(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return r.Download(ctx, filename)
		}
		return "", err
	}
	return path, nil
}

// Download fetches filename into the cache and returns its snapshot path.
// Transient failures are retried with exponential backoff; a resumable
// temp file means retries continue where the failed attempt stopped. A
// missing file fails immediately, a 404 does not become less permanent by
// waiting.
func (r *ModelRepo) Download(ctx context.Context, filename string) (string, error) {
	fileURL := r.URL(filename)

	var (
		path  string
		err   error
		delay = r.client.retryDelay
	)
	for attempt := 0; attempt < r.client.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		path, err = r.downloadOnce(ctx, filename, fileURL)
		if err == nil {
			return path, nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("download %s after %d attempts: %w", filename, r.client.maxRetries, err)
}

func (r *ModelRepo) downloadOnce(ctx context.Context, filename, fileURL string) (string, error) {
	meta, err := r.client.metadata(ctx, fileURL)
	if err != nil {
		return "", err
	}

	cacheRepo := r.client.cache.Repo(r.repo)
	blobPath := cacheRepo.BlobPath(meta.etag)
	if err = os.MkdirAll(filepath.Dir(blobPath), os.ModePerm); err != nil {
		return "", err
	}

	var bar *progressbar.ProgressBar
	if r.client.progress {
		desc := filename
		if len(desc) > 30 {
			desc = ".." + desc[:30]
		}
		bar = progressbar.NewOptions64(
			int64(meta.size),
			progressbar.OptionSetDescription(desc),
			progressbar.OptionUseANSICodes(useANSICodes),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionShowBytes(true),
		)
	}

	tmpFilename, err := r.client.downloadTempFile(ctx, fileURL, meta, bar)
	if err != nil {
		return "", err
	}

	if err = os.Rename(tmpFilename, blobPath); err != nil {
		return "", err
	}

	pointerPath := filepath.Join(cacheRepo.PointerPath(meta.commitHash), filename)
	if err = os.MkdirAll(filepath.Dir(pointerPath), os.ModePerm); err != nil {
		return "", err
	}
	if err = symlinkOrRename(blobPath, pointerPath); err != nil {
		return "", err
	}
	if err = cacheRepo.CreateRef(meta.commitHash); err != nil {
		return "", err
	}

	return filepath.Abs(pointerPath)
}

// Sibling is a file entry in a repository listing.
type Sibling struct {
	Rfilename string `json:"rfilename"`
}

// RepoInfo is the hub metadata of a repository.
type RepoInfo struct {
	Siblings []Sibling `json:"siblings"`
	Sha      string    `json:"sha"`
}

// Info fetches the repository metadata, including its file listing.
func (r *ModelRepo) Info(ctx context.Context) (*RepoInfo, error) {
	apiURL := fmt.Sprintf("%s/api/%s", r.client.endpoint, r.repo.apiPath())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = r.client.headers.Clone()

	res, err := r.client.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("repo info %s: status %d %s",
			r.repo.id, res.StatusCode, http.StatusText(res.StatusCode))
	}

	var info RepoInfo
	if err = json.NewDecoder(res.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

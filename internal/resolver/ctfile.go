package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tywang/bookhaul/internal/logger"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// defaultLinkTTL is how long a resolved CDN link is assumed valid when the
// remote gives no expiry.
const defaultLinkTTL = 10 * time.Minute

// CTFileResolver resolves ctfile pan share links through the pan's JSON API
// (the get_file_url endpoint behind the download button).
type CTFileResolver struct {
	client  *resty.Client
	log     *logger.Logger
	linkTTL time.Duration
}

// CTFileConfig holds configuration for the ctfile resolver.
type CTFileConfig struct {
	// BaseURL overrides the API host, mainly for tests. Empty uses the
	// share link's own host.
	BaseURL string
	Timeout time.Duration
	LinkTTL time.Duration
}

// NewCTFileResolver creates a resolver backed by the pan's HTTP API.
// Parameters:
//   - cfg: resolver configuration; nil uses defaults.
//   - log: logger for debug output; nil uses the default logger.
// Returns:
//   - *CTFileResolver: ready-to-use resolver.
func NewCTFileResolver(cfg *CTFileConfig, log *logger.Logger) *CTFileResolver {
	if cfg == nil {
		cfg = &CTFileConfig{}
	}
	if log == nil {
		log = logger.GetDefault()
	}

	client := resty.New()
	client.SetHeader("User-Agent", defaultUserAgent)
	client.SetHeader("Accept", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.BaseURL != "" {
		client.SetBaseURL(cfg.BaseURL)
	}

	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = defaultLinkTTL
	}

	return &CTFileResolver{client: client, log: log, linkTTL: ttl}
}

// Resolve calls the pan API for the share link's file and parses the CDN
// URL out of the JSON response.
func (r *CTFileResolver) Resolve(ctx context.Context, link string) (*ResolvedLink, error) {
	fileID, err := fileIDFromLink(link)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	req := r.client.R().
		SetContext(ctx).
		SetQueryParam("uid", fileID).
		SetQueryParam("origin", "old")

	endpoint := "/get_file_url.php"
	if r.client.BaseURL == "" {
		host, err := hostFromLink(link)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		endpoint = host + endpoint
	}

	resp, err := req.Get(endpoint)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("resolver request failed: %w", err)
	}

	resolved, err := parseLinkResponse(resp.Body())
	if err != nil {
		return nil, err
	}
	if resolved.ExpiresAt.IsZero() {
		resolved.ExpiresAt = time.Now().Add(r.linkTTL)
	}

	r.log.WithFields(logger.Fields{
		"file_id":  fileID,
		"filename": resolved.Filename,
		"size":     resolved.FileSize,
	}).Debug("Resolved CDN link")

	return resolved, nil
}

// apiResponse mirrors the pan's JSON payload:
//
//	{"code":200,"downurl":"https://...","file_size":2604814,"file_name":"10019-x.zip"}
type apiResponse struct {
	Code     int    `json:"code"`
	DownURL  string `json:"downurl"`
	DownURL2 string `json:"down_url"`
	URL      string `json:"url"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
	Message  string `json:"message"`
}

// parseLinkResponse extracts the CDN link from an API response body,
// classifying remote refusals into the resolver error kinds.
func parseLinkResponse(body []byte) (*ResolvedLink, error) {
	var data apiResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("resolver: malformed response: %w", err)
	}

	switch data.Code {
	case 200:
	case 404:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, data.Message)
	case 403, 503:
		return nil, fmt.Errorf("%w: code %d %s", ErrBlocked, data.Code, data.Message)
	default:
		return nil, fmt.Errorf("resolver: unexpected code %d: %s", data.Code, data.Message)
	}

	cdnURL := data.DownURL
	if cdnURL == "" {
		cdnURL = data.DownURL2
	}
	if cdnURL == "" {
		cdnURL = data.URL
	}
	if cdnURL == "" {
		return nil, fmt.Errorf("%w: response carries no download url", ErrNotFound)
	}

	filename := data.FileName
	if filename == "" {
		filename = filenameFromURL(cdnURL)
	}

	return &ResolvedLink{
		URL:      cdnURL,
		Filename: filename,
		FileSize: data.FileSize,
	}, nil
}

// fileIDFromLink extracts the pan file id from a share link
// (last path segment, query stripped).
func fileIDFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return "", fmt.Errorf("no file id in link %q", link)
	}
	return path, nil
}

// hostFromLink returns scheme://host of a share link.
func hostFromLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("link %q has no host", link)
	}
	return u.Scheme + "://" + u.Host, nil
}

// filenameFromURL pulls a filename out of a CDN URL, preferring the fname
// query parameter the CDN attaches.
func filenameFromURL(cdnURL string) string {
	u, err := url.Parse(cdnURL)
	if err != nil {
		return ""
	}
	if fname := u.Query().Get("fname"); fname != "" {
		if decoded, err := url.QueryUnescape(fname); err == nil {
			return decoded
		}
		return fname
	}
	path := strings.TrimRight(u.Path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// isTimeout reports whether the error chain contains a network timeout.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

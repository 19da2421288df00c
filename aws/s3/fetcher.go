// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package s3 implements the authenticated ranged fetcher described in
// spec.md §4.2: a signed HEAD that binds a session to one S3 object
// version, and signed ranged GETs that read that version's bytes.
package s3

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sneller-labs/s3sql/aws"
)

// DefaultClient is the default HTTP client used by Fetcher when none is
// supplied. It mirrors the transport tuning the teacher codebase found
// necessary for talking to S3 at volume: a handful of idle connections
// per host (S3 round-robins across many different IPs per hostname),
// a short dial timeout so that dead addresses in that round-robin are
// identified quickly, and response compression disabled so that a
// compressed database page isn't silently inflated by the transport.
var DefaultClient = http.Client{
	Transport: &http.Transport{
		ResponseHeaderTimeout: 60 * time.Second,
		MaxIdleConnsPerHost:   5,
		DisableCompression:    true,
		DialContext: (&net.Dialer{
			Timeout: 2 * time.Second,
		}).DialContext,
	},
}

// ErrVersioningRequired is returned by Open when the bucket the target
// object lives in does not have S3 object versioning enabled (no
// x-amz-version-id header on the HEAD response). Without a version id
// there is no way to pin a session to a single consistent image of the
// object, which this package requires (spec.md §3 invariant 2).
var ErrVersioningRequired = errors.New("s3: the bucket must have versioning enabled")

// ErrIO wraps every network, HTTP-status, and length-mismatch failure
// this package produces, per spec.md §7.
var ErrIO = errors.New("s3: I/O error")

func ioErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIO}, args...)...)
}

// ObjectBinding pins a Fetcher to a single, immutable S3 object version,
// as established by the initial HEAD (spec.md §3, ObjectBinding).
type ObjectBinding struct {
	VersionID string
	Size      int64
}

// Fetcher performs authenticated ranged reads of one S3(-compatible)
// object. It is stateless apart from the HTTP client and credentials
// provider it shares across calls (spec.md §4.2).
type Fetcher struct {
	// Scheme, Host, and Path identify the object, exactly as carved
	// out of the input URL by spec.md §6: the path is never parsed
	// into bucket/key, it is signed and requested verbatim.
	Scheme, Host, Path string

	Creds  aws.Provider
	Client *http.Client
}

// NewFetcher parses rawURL (scheme://host/bucket/key) into a Fetcher,
// per spec.md §6.
func NewFetcher(rawURL string, creds aws.Provider, client *http.Client) (*Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("s3: parsing url: %w", err)
	}
	if client == nil {
		client = &DefaultClient
	}
	if creds == nil {
		creds, err = aws.AmbientProvider()
		if err != nil {
			return nil, fmt.Errorf("s3: resolving default credentials: %w", err)
		}
	}
	return &Fetcher{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   u.EscapedPath(),
		Creds:  creds,
		Client: client,
	}, nil
}

func (f *Fetcher) do(method string, query []aws.QueryParam, headers []aws.Header) (*http.Response, error) {
	now := time.Now()
	creds, err := f.Creds(now)
	if err != nil {
		return nil, fmt.Errorf("s3: obtaining credentials: %w", err)
	}
	signed, err := aws.Sign(now, creds, f.Host, method, f.Path, query, headers, aws.EmptyBodyHash)
	if err != nil {
		return nil, err
	}

	reqURL := f.Scheme + "://" + f.Host + f.Path
	if len(query) > 0 {
		q := make(url.Values, len(query))
		for _, p := range query {
			q.Add(p.Name, p.Value)
		}
		reqURL += "?" + q.Encode()
	}
	req, err := http.NewRequest(method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header = signed

	res, err := f.Client.Do(req)
	if err != nil {
		return nil, ioErrorf("%s %s: %w", method, reqURL, err)
	}
	return res, nil
}

// Open performs the signed HEAD described in spec.md §4.2 and binds the
// Fetcher to the object version it reports.
func (f *Fetcher) Open() (*ObjectBinding, error) {
	res, err := f.do(http.MethodHead, nil, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, ioErrorf("HEAD %s: status %s", f.Path, res.Status)
	}
	version := res.Header.Get("x-amz-version-id")
	if version == "" {
		return nil, ErrVersioningRequired
	}
	size, err := strconv.ParseInt(res.Header.Get("content-length"), 10, 64)
	if err != nil || size < 0 {
		return nil, ioErrorf("HEAD %s: invalid content-length %q", f.Path, res.Header.Get("content-length"))
	}
	return &ObjectBinding{VersionID: version, Size: size}, nil
}

// ReadRange performs the signed ranged GET described in spec.md §4.2,
// pinning the request to binding.VersionID, and returns exactly length
// bytes starting at offset. Any discrepancy -- a short body, a broken
// connection, a non-2xx status, or a server that sends more than
// length bytes -- is reported as ErrIO.
func (f *Fetcher) ReadRange(binding *ObjectBinding, offset, length int64) ([]byte, error) {
	query := []aws.QueryParam{{Name: "versionId", Value: binding.VersionID}}
	headers := []aws.Header{{Name: "range", Value: fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)}}

	res, err := f.do(http.MethodGet, query, headers)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
	default:
		return nil, ioErrorf("GET %s [%d-%d]: status %s (%s)",
			f.Path, offset, offset+length-1, res.Status, extractMessage(res.Body))
	}

	dst := make([]byte, length)
	n, err := io.ReadFull(res.Body, dst)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, ioErrorf("GET %s [%d-%d]: %w", f.Path, offset, offset+length-1, err)
	}
	if int64(n) != length {
		return nil, ioErrorf("GET %s [%d-%d]: got %d bytes, wanted %d", f.Path, offset, offset+length-1, n, length)
	}

	// Defensive short-circuit for a malicious or broken server that
	// sends more than the requested range: we've already copied
	// exactly length bytes into dst above, so read at most one more
	// byte to confirm there is no more body left to silently swallow.
	extra := make([]byte, 1)
	if m, _ := res.Body.Read(extra); m > 0 {
		return nil, ioErrorf("GET %s [%d-%d]: server sent more than %d bytes", f.Path, offset, offset+length-1, length)
	}
	return dst, nil
}

// extractMessage tries to extract the <Message/> field of an S3 XML
// error response to improve error messages.
func extractMessage(r io.Reader) string {
	rt := struct {
		Message string `xml:"Message"`
	}{}
	if xml.NewDecoder(r).Decode(&rt) == nil && rt.Message != "" {
		return rt.Message
	}
	return "(no message)"
}

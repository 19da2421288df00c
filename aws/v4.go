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

// Package aws is a lightweight implementation of the pieces of the AWS
// API that this module needs: the SigV4 request-signing algorithm and
// credential discovery. Only the Version 4 algorithm is supported.
package aws

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const (
	longFormat  = "20060102T150405Z"
	shortFormat = "20060102"
)

// ErrSigning is returned by Sign when the inputs cannot be turned into
// a valid canonical request, for example because a header name contains
// a non-ASCII byte.
var ErrSigning = errors.New("aws: signing error")

// Credentials is the set of values a Provider produces for a single
// signing operation. Credentials are never stored beyond the call that
// produced them.
type Credentials struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// SessionToken is optional; it is only present for temporary
	// (STS-derived) credentials.
	SessionToken string
}

// Provider produces Credentials for the given UTC timestamp. It is
// called on every signed request, so implementations may cache
// short-lived credentials behind it.
type Provider func(now time.Time) (Credentials, error)

// StaticCredentials returns a Provider that always yields the same
// Credentials, useful for tests and for callers who already hold
// long-lived keys.
func StaticCredentials(c Credentials) Provider {
	return func(time.Time) (Credentials, error) { return c, nil }
}

// QueryParam is a single (name, value) pair to be included, signed, in
// the request's query string.
type QueryParam struct {
	Name  string
	Value string
}

// Header is a single (name, value) pair to be included, signed, in the
// request's headers.
type Header struct {
	Name  string
	Value string
}

func sortedQuery(query []QueryParam) []QueryParam {
	out := make([]QueryParam, len(query))
	for i, q := range query {
		out[i] = QueryParam{Name: queryEscape(q.Name), Value: queryEscape(q.Value)}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Value < out[j].Value
	})
	return out
}

func canonicalQueryString(query []QueryParam) string {
	q := sortedQuery(query)
	var buf bytes.Buffer
	for i, p := range q {
		if i != 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(p.Name)
		buf.WriteByte('=')
		buf.WriteString(p.Value)
	}
	return buf.String()
}

// collapseSpace turns each run of whitespace in s into a single space,
// as required for header values in the canonical request.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}

type signedHeader struct {
	name  string
	value string
}

func buildHeaders(host, amzdate, bodyHash, token string, extra []Header) ([]signedHeader, error) {
	all := make([]signedHeader, 0, len(extra)+4)
	all = append(all,
		signedHeader{"host", host},
		signedHeader{"x-amz-content-sha256", bodyHash},
		signedHeader{"x-amz-date", amzdate},
	)
	if token != "" {
		all = append(all, signedHeader{"x-amz-security-token", token})
	}
	for _, h := range extra {
		name := strings.ToLower(h.Name)
		if hasNonASCII(name) || hasNonASCII(h.Value) {
			return nil, fmt.Errorf("%w: header %q has non-ASCII bytes", ErrSigning, h.Name)
		}
		all = append(all, signedHeader{name, collapseSpace(h.Value)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].name < all[j].name })
	return all, nil
}

// canonicalRequest writes the canonical request described in spec.md
// §4.1 step 4 into dst, and returns the signed-headers string.
func canonicalRequest(dst *bytes.Buffer, method, path string, query []QueryParam, headers []signedHeader, bodyHash string) string {
	dst.WriteString(method)
	dst.WriteByte('\n')
	dst.WriteString(canonicalURI(path))
	dst.WriteByte('\n')
	dst.WriteString(canonicalQueryString(query))
	dst.WriteByte('\n')
	for _, h := range headers {
		dst.WriteString(h.name)
		dst.WriteByte(':')
		dst.WriteString(h.value)
		dst.WriteByte('\n')
	}
	dst.WriteByte('\n')
	names := make([]string, len(headers))
	for i, h := range headers {
		names[i] = h.name
	}
	signedHeaders := strings.Join(names, ";")
	dst.WriteString(signedHeaders)
	dst.WriteByte('\n')
	dst.WriteString(bodyHash)
	return signedHeaders
}

func scope(now time.Time, region, service string) string {
	return now.Format(shortFormat) + "/" + region + "/" + service + "/aws4_request"
}

func stringToSign(now time.Time, region, service, reqHash string) string {
	var buf bytes.Buffer
	buf.WriteString("AWS4-HMAC-SHA256\n")
	buf.WriteString(now.Format(longFormat))
	buf.WriteByte('\n')
	buf.WriteString(scope(now, region, service))
	buf.WriteByte('\n')
	buf.WriteString(reqHash)
	return buf.String()
}

func macinto(key, mem []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(mem)
	return h.Sum(key[:0])
}

// deriveKey computes the HMAC-SHA256 chain described in spec.md §4.1
// step 6. It is recomputed on every Sign call rather than cached,
// because Sign is specified as a pure function over fresh Credentials.
func deriveKey(secret string, now time.Time, region, service string) []byte {
	k := []byte("AWS4" + secret)
	k = macinto(k, []byte(now.Format(shortFormat)))
	k = macinto(k, []byte(region))
	k = macinto(k, []byte(service))
	k = macinto(k, []byte("aws4_request"))
	return k
}

func hmacHex(key, msg []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalURI percent-encodes path, preserving '/' and '~' as
// required by spec.md §4.1 step 3.
func canonicalURI(path string) string {
	if path == "" {
		return "/"
	}
	var buf strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch {
		case isUnreserved(c) || c == '/' || c == '~':
			buf.WriteByte(c)
		default:
			fmt.Fprintf(&buf, "%%%02X", c)
		}
	}
	return buf.String()
}

// queryEscape percent-encodes s, preserving '~' as required by
// spec.md §4.1 step 3.
func queryEscape(s string) string {
	var buf strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isUnreserved(c) || c == '~':
			buf.WriteByte(c)
		default:
			fmt.Fprintf(&buf, "%%%02X", c)
		}
	}
	return buf.String()
}

func isUnreserved(c byte) bool {
	return c >= 'A' && c <= 'Z' ||
		c >= 'a' && c <= 'z' ||
		c >= '0' && c <= '9' ||
		c == '-' || c == '.' || c == '_'
}

// Sign implements the AWS SigV4 algorithm for the "s3" service, as
// specified in spec.md §4.1. It is a pure function: given a timestamp,
// credentials, request line, query parameters, and additional headers
// to sign, it returns the full header set (authorization, x-amz-date,
// x-amz-content-sha256, the signed extra headers, and host) that the
// caller should attach to its HTTP request.
func Sign(now time.Time, creds Credentials, host, method, path string, query []QueryParam, headers []Header, bodyHash string) (http.Header, error) {
	now = now.UTC()
	amzdate := now.Format(longFormat)

	signed, err := buildHeaders(host, amzdate, bodyHash, creds.SessionToken, headers)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	signedHeaderNames := canonicalRequest(&buf, method, path, query, signed, bodyHash)
	reqHash := sha256.Sum256(buf.Bytes())

	sts := stringToSign(now, creds.Region, "s3", hex.EncodeToString(reqHash[:]))
	key := deriveKey(creds.SecretAccessKey, now, creds.Region, "s3")
	signature := hmacHex(key, []byte(sts))

	out := make(http.Header, len(signed)+1)
	for _, h := range signed {
		out.Set(h.name, h.value)
	}
	out.Set("authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		creds.AccessKeyID, scope(now, creds.Region, "s3"), signedHeaderNames, signature,
	))
	return out, nil
}

// EmptyBodyHash is the hex SHA-256 of an empty body, the value this
// module always signs since every request it issues (HEAD and ranged
// GET) carries no request body.
const EmptyBodyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Copyright 2016 Jimmy Zelinskie
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bittorrent

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// ErrKeyNotFound is returned when a provided key has no value associated
// with it.
var ErrKeyNotFound = ClientError("query: value for the provided key does not exist")

// ErrInvalidInfohash is returned when parsing a query encounters an
// infohash with invalid length.
var ErrInvalidInfohash = ClientError("provided invalid infohash")

// ErrInvalidQueryEscape is returned when a query string contains invalid
// escapes.
var ErrInvalidQueryEscape = ClientError("invalid query escape")

// QueryParams parses a URL query and implements the Params interface with
// some additional helpers used by the HTTP front-end.
type QueryParams struct {
	query      string
	params     map[string]string
	infoHashes []InfoHash
}

// ParseQuery parses a URL query string, excluding the leading '?'.
//
// Note that in the case of a key occurring multiple times, only the last
// value is kept, with the exception of "info_hash" which is accumulated
// into a slice and returned by InfoHashes.
func ParseQuery(query string) (*QueryParams, error) {
	q := &QueryParams{
		query:  query,
		params: make(map[string]string),
	}

	for query != "" {
		key := query
		if i := strings.IndexAny(key, "&;"); i >= 0 {
			key, query = key[:i], key[i+1:]
		} else {
			query = ""
		}
		if key == "" {
			continue
		}

		value := ""
		if i := strings.Index(key, "="); i >= 0 {
			key, value = key[:i], key[i+1:]
		}

		unescapedKey, err := url.QueryUnescape(key)
		if err != nil {
			log.Debug("failed to unescape query param key", log.Err(err))
			return nil, ErrInvalidQueryEscape
		}
		unescapedValue, err := url.QueryUnescape(value)
		if err != nil {
			log.Debug("failed to unescape query param value", log.Err(err))
			return nil, ErrInvalidQueryEscape
		}

		if unescapedKey == "info_hash" {
			if len(unescapedValue) != idLen {
				return nil, ErrInvalidInfohash
			}
			q.infoHashes = append(q.infoHashes, InfoHashFromString(unescapedValue))
		} else {
			q.params[strings.ToLower(unescapedKey)] = unescapedValue
		}
	}

	return q, nil
}

// String returns a string parsed from a query.
func (qp *QueryParams) String(key string) (string, bool) {
	value, ok := qp.params[key]
	return value, ok
}

// Uint64 returns a uint64 parsed from a query.
func (qp *QueryParams) Uint64(key string) (uint64, error) {
	str, exists := qp.params[key]
	if !exists {
		return 0, ErrKeyNotFound
	}
	val, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, ClientError("failed to parse parameter: " + key)
	}
	return val, nil
}

// InfoHashes returns every info_hash collected while parsing the query.
func (qp *QueryParams) InfoHashes() []InfoHash {
	return qp.infoHashes
}

// RawQuery returns the raw query the QueryParams was parsed from.
func (qp *QueryParams) RawQuery() string {
	return qp.query
}

package imageservice

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// State is the processing state of an image
type State string

// States reported by the image service. Other values are passed through as-is.
const (
	StateDraft    State = "draft"
	StateFinished State = "finished"
)

// Image is an image stored in the image service
type Image struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	Size  uint64 `json:"size"`
}

// Finished reports whether the image content is confirmed present
func (i *Image) Finished() bool {
	return i.State == StateFinished
}

// Params are rendering parameters for a hosting URL. Zero values are unset.
type Params struct {
	MaxWidth  int
	MaxHeight int

	CropX      int
	CropY      int
	CropWidth  int
	CropHeight int

	// ExpireMinutes overrides how long the hosting URL is cached
	ExpireMinutes int
}

// Query returns the set parameters as query parameters for the image service
func (p *Params) Query() url.Values {
	v := url.Values{}
	if p == nil {
		return v
	}

	set := func(key string, value int) {
		if value > 0 {
			v.Set(key, strconv.Itoa(value))
		}
	}

	set("maxWidth", p.MaxWidth)
	set("maxHeight", p.MaxHeight)
	set("cropX", p.CropX)
	set("cropY", p.CropY)
	set("cropWidth", p.CropWidth)
	set("cropHeight", p.CropHeight)
	set("expireMinutes", p.ExpireMinutes)

	return v
}

// Encode returns the query parameters in a canonical form, sorted by key
func (p *Params) Encode() string {
	return encodeQuery(p.Query())
}

// encodeQuery differs from url.Values.Encode in that it only encodes the first value per key
func encodeQuery(v url.Values) string {
	var buf strings.Builder

	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}

		fmt.Fprintf(&buf, "%s=%s", url.QueryEscape(key), url.QueryEscape(v.Get(key)))
	}

	return buf.String()
}

// URLRequest is a single entry of a bulk hosting URL request
type URLRequest struct {
	ID     string
	Params *Params
}

// IDs builds hosting URL requests without parameters
func IDs(ids ...string) []URLRequest {
	requests := make([]URLRequest, len(ids))
	for i, id := range ids {
		requests[i] = URLRequest{ID: id}
	}
	return requests
}

// CacheKeyPrefix prefixes all hosting URL cache keys
const CacheKeyPrefix = "ImageServiceObject-"

// CacheKey returns the cache key of the hosting URL for an image rendered with params
func CacheKey(id string, params *Params) string {
	encoded := params.Encode()
	if encoded == "" {
		return CacheKeyPrefix + id
	}

	return CacheKeyPrefix + id + "|" + encoded
}

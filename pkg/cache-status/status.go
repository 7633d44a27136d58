// Package cachestatus renders the Cache-Status response header (RFC 9211).
package cachestatus

import (
	"fmt"
	"strconv"
)

const HeaderName = "Cache-Status"

type Status string

const (
	StatusHit = "hit"
	StatusFwd = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss = "uri-miss"

	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdMiss = "miss"

	// The cache was able to select a response for the request, but
	// it was stale.
	FwdStale = "stale"
)

// CacheStatus collects what one cache did with one request.
// The zero value is not usable; create one with New.
type CacheStatus struct {
	name      string
	status    Status
	detail    string
	fwdReason FwdReason
	fwdStatus int
	stored    bool
	collapsed bool
}

// New returns a status for the cache identified by name.
func New(name string) *CacheStatus {
	return &CacheStatus{name: name}
}

func (cs *CacheStatus) Hit() {
	cs.status = StatusHit
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.status = StatusFwd
	cs.fwdReason = reason
}

// ForwardStatus records the status code of the forwarded response.
func (cs *CacheStatus) ForwardStatus(code int) {
	cs.fwdStatus = code
}

// Stored records that the forwarded response was stored.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

// Collapsed records that the request was collapsed with another one.
func (cs *CacheStatus) Collapsed() {
	cs.collapsed = true
}

func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	status := fmt.Sprintf("%s; %s", cs.name, cs.status)
	if cs.status == StatusFwd && cs.fwdReason != "" {
		status = fmt.Sprintf("%s=%s", status, cs.fwdReason)
	}
	if cs.fwdStatus != 0 {
		status = status + "; fwd-status=" + strconv.Itoa(cs.fwdStatus)
	}
	if cs.stored {
		status = status + "; stored"
	}
	if cs.collapsed {
		status = status + "; collapsed"
	}
	if cs.detail != "" {
		status = status + "; detail=" + cs.detail
	}
	return status
}

package cmd

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/AdguardTeam/TrackerShield/internal/rulesmgr"
	"github.com/AdguardTeam/TrackerShield/internal/rulestore"
	"github.com/AdguardTeam/golibs/errors"
)

// Query parameters of [PathCheck].
const (
	queryPage = "page"
	queryType = "type"
	queryURL  = "url"
)

// checkListJSON is the result of checking a request against a single rule
// list.
type checkListJSON struct {
	Name      string `json:"name"`
	Surrogate string `json:"surrogate,omitempty"`
	Blocked   bool   `json:"blocked"`
}

// trackerJSON is the attribution of a checked request.
type trackerJSON struct {
	Entity        string `json:"entity,omitempty"`
	Host          string `json:"host"`
	TrackerDomain string `json:"tracker_domain,omitempty"`
	Kind          string `json:"kind"`
	Blocked       bool   `json:"blocked"`
}

// checkJSON is the response of [PathCheck].
type checkJSON struct {
	Tracker    *trackerJSON     `json:"tracker"`
	Lists      []*checkListJSON `json:"lists"`
	Generation uint64           `json:"generation"`
}

// errNoURL is returned when the checked URL is missing.
const errNoURL errors.Error = "no url"

// handleCheck is the handler for the GET [PathCheck] HTTP API.  It checks a
// request against every published list and attributes it.
func (h *controlHandler) handleCheck(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &rulestore.Request{
		URL:          q.Get(queryURL),
		PageURL:      q.Get(queryPage),
		ResourceType: q.Get(queryType),
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%s: %w", queryURL, err))

		return
	} else if u.Hostname() == "" {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("%s: %w", queryURL, errNoURL))

		return
	}

	rules := h.rules.Acquire()
	defer h.rules.Release(r.Context(), rules)

	resp := &checkJSON{
		Lists:      []*checkListJSON{},
		Generation: rules.Generation,
	}

	var blocked bool
	for _, name := range rules.Names() {
		res := checkList(rules.List(name), req, u.Hostname())
		blocked = blocked || res.Blocked
		resp.Lists = append(resp.Lists, res)
	}

	d := h.attributor.Attribute(req.URL, req.PageURL, blocked)
	if d != nil {
		resp.Tracker = &trackerJSON{
			Entity:  d.EntityName(),
			Host:    d.Host,
			Kind:    string(d.Kind),
			Blocked: d.Blocked,
		}

		if d.Tracker != nil {
			resp.Tracker.TrackerDomain = d.Tracker.Domain
		}
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// checkList checks req against l.  Lists that cannot check full requests only
// check host.
func checkList(l *rulesmgr.List, req *rulestore.Request, host string) (res *checkListJSON) {
	res = &checkListJSON{
		Name: l.Name,
	}

	switch c := l.Compiled.(type) {
	case *rulestore.Matcher:
		m := c.Match(req)
		res.Blocked, res.Surrogate = m.Blocked, m.Surrogate
	case *rulestore.DNSList:
		res.Blocked = c.MatchHost(host)
	default:
		// Unknown lists never block.
	}

	return res
}

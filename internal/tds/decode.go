package tds

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
)

// DecodeError is returned when a tracker-data document cannot be decoded.
type DecodeError struct {
	// Err is the underlying decoding error.
	Err error

	// Etag is the etag of the document.
	Etag string
}

// type check
var _ error = (*DecodeError)(nil)

// Error implements the error interface for *DecodeError.
func (err *DecodeError) Error() (msg string) {
	return fmt.Sprintf("decoding tracker data with etag %q: %s", err.Etag, err.Err)
}

// Unwrap implements the [errors.Wrapper] interface for *DecodeError.
func (err *DecodeError) Unwrap() (unwrapped error) {
	return err.Err
}

// Validation errors.  They are reported for the records dropped while loading
// tracker data.
const (
	// ErrUnknownEntity is returned when a record references an entity that is
	// not in the entities table.
	ErrUnknownEntity errors.Error = "unknown entity"

	// ErrUnrelatedDomain is returned when a domain of the domains table is
	// neither a tracker domain, a subdomain of one, nor a domain declared by
	// its entity.
	ErrUnrelatedDomain errors.Error = "domain is not related to its entity"

	// ErrDanglingCNAME is returned when a CNAME target resolves to no
	// tracker.
	ErrDanglingCNAME errors.Error = "cname target is not a tracker"

	// errNoData is returned when the document is empty.
	errNoData errors.Error = "no data"
)

// dataJSON is the JSON representation of a tracker-data document.
type dataJSON struct {
	Trackers map[string]*trackerJSON `json:"trackers"`
	Entities map[string]*entityJSON  `json:"entities"`
	Domains  map[string]string       `json:"domains"`
	CNAMEs   map[string]string       `json:"cnames"`
}

// trackerJSON is the JSON representation of a tracker record.
type trackerJSON struct {
	Owner *ownerJSON `json:"owner"`

	Domain string `json:"domain"`

	// Default is the name used by the published tracker-radar documents.
	Default string `json:"default"`

	// DefaultAction is an alternative name of Default.  It takes precedence
	// when both are set.
	DefaultAction string `json:"defaultAction"`

	Categories []string    `json:"categories"`
	Rules      []*ruleJSON `json:"rules"`

	Prevalence float64 `json:"prevalence"`
}

// ownerJSON is the owner of a tracker.  It is either a string with the entity
// name or an object.
type ownerJSON struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// type check
var _ json.Unmarshaler = (*ownerJSON)(nil)

// UnmarshalJSON implements the [json.Unmarshaler] interface for *ownerJSON.
func (o *ownerJSON) UnmarshalJSON(b []byte) (err error) {
	var name string
	if json.Unmarshal(b, &name) == nil {
		o.Name = name

		return nil
	}

	type ownerObj ownerJSON

	// Don't wrap the error since it's informative enough as is.
	return json.Unmarshal(b, (*ownerObj)(o))
}

// ruleJSON is the JSON representation of a tracker rule.
type ruleJSON struct {
	Options    *conditionJSON `json:"options"`
	Exceptions *conditionJSON `json:"exceptions"`

	Rule      string `json:"rule"`
	Action    string `json:"action"`
	Surrogate string `json:"surrogate"`
}

// conditionJSON is the JSON representation of rule options and exceptions.
type conditionJSON struct {
	Domains []string `json:"domains"`
	Types   []string `json:"types"`
}

// entityJSON is the JSON representation of an entity.
type entityJSON struct {
	DisplayName string   `json:"displayName"`
	Domains     []string `json:"domains"`

	Prevalence float64 `json:"prevalence"`
}

// decodedData is the result of decoding and validating a document.
type decodedData struct {
	trackers map[string]*Tracker
	entities map[string]*Entity
	domains  map[string]string
	cnames   map[string]string

	// issues are the validation errors of the dropped records in the order of
	// the sorted keys of each table.
	issues []error
}

// decode decodes and validates a tracker-data document.  Invalid records are
// dropped and reported in the issues of the result.  err is only returned if
// the document itself cannot be decoded.
func decode(data []byte) (d *decodedData, err error) {
	if len(data) == 0 {
		return nil, errNoData
	}

	doc := &dataJSON{}
	err = json.Unmarshal(data, doc)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	d = &decodedData{
		trackers: make(map[string]*Tracker, len(doc.Trackers)),
		entities: make(map[string]*Entity, len(doc.Entities)),
		domains:  make(map[string]string, len(doc.Domains)),
		cnames:   make(map[string]string, len(doc.CNAMEs)),
	}

	d.decodeEntities(doc.Entities)
	d.decodeTrackers(doc.Trackers)
	d.decodeDomains(doc.Domains)
	d.decodeCNAMEs(doc.CNAMEs)

	return d, nil
}

// decodeEntities fills the entities table.
func (d *decodedData) decodeEntities(entities map[string]*entityJSON) {
	for _, name := range slices.Sorted(maps.Keys(entities)) {
		ej := entities[name]
		if ej == nil {
			d.issues = append(d.issues, fmt.Errorf("entity %q: %w", name, errors.ErrNoValue))

			continue
		}

		e := &Entity{
			Name:        name,
			DisplayName: ej.DisplayName,
			Domains:     normalizeDomains(ej.Domains),
			Prevalence:  ej.Prevalence,
		}

		if e.DisplayName == "" {
			e.DisplayName = name
		}

		d.entities[name] = e
	}
}

// decodeTrackers fills the trackers table.  d.entities must be filled.
func (d *decodedData) decodeTrackers(trackers map[string]*trackerJSON) {
	for _, key := range slices.Sorted(maps.Keys(trackers)) {
		tj := trackers[key]
		t, err := d.newTracker(key, tj)
		if err != nil {
			d.issues = append(d.issues, fmt.Errorf("tracker %q: %w", key, err))

			continue
		}

		d.trackers[t.Domain] = t
	}
}

// newTracker validates tj and converts it.  Invalid rules are dropped and
// added to d.issues.
func (d *decodedData) newTracker(key string, tj *trackerJSON) (t *Tracker, err error) {
	if tj == nil {
		return nil, errors.ErrNoValue
	}

	domain := normalizeHost(key)
	err = netutil.ValidateDomainName(domain)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	actStr := tj.Default
	if tj.DefaultAction != "" {
		actStr = tj.DefaultAction
	}

	act, err := parseAction(actStr)
	if err != nil {
		return nil, fmt.Errorf("default %w", err)
	}

	t = &Tracker{
		Domain:        domain,
		DefaultAction: act,
		Categories:    slices.Sorted(slices.Values(tj.Categories)),
		Rules:         make([]*Rule, 0, len(tj.Rules)),
		Prevalence:    tj.Prevalence,
	}

	if tj.Owner != nil && tj.Owner.Name != "" {
		if _, ok := d.entities[tj.Owner.Name]; ok {
			t.Owner = tj.Owner.Name
		} else {
			d.issues = append(d.issues, fmt.Errorf(
				"tracker %q: owner %q: %w",
				domain,
				tj.Owner.Name,
				ErrUnknownEntity,
			))
		}
	}

	for i, rj := range tj.Rules {
		r, rErr := newRule(rj)
		if rErr != nil {
			d.issues = append(d.issues, fmt.Errorf("tracker %q: rule at index %d: %w", domain, i, rErr))

			continue
		}

		t.Rules = append(t.Rules, r)
	}

	return t, nil
}

// newRule validates rj and converts it.
func newRule(rj *ruleJSON) (r *Rule, err error) {
	if rj == nil || rj.Rule == "" {
		return nil, fmt.Errorf("rule: %w", errors.ErrEmptyValue)
	}

	_, err = regexp.Compile(rj.Rule)
	if err != nil {
		return nil, fmt.Errorf("rule: %w", err)
	}

	act, err := parseAction(rj.Action)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	return &Rule{
		Options:    newCondition(rj.Options),
		Exceptions: newCondition(rj.Exceptions),
		Pattern:    rj.Rule,
		Action:     act,
		Surrogate:  rj.Surrogate,
	}, nil
}

// newCondition converts cj.  It returns nil if cj is nil or empty.
func newCondition(cj *conditionJSON) (c *Condition) {
	if cj == nil || (len(cj.Domains) == 0 && len(cj.Types) == 0) {
		return nil
	}

	return &Condition{
		Domains: normalizeDomains(cj.Domains),
		Types:   slices.Compact(slices.Sorted(slices.Values(cj.Types))),
	}
}

// decodeDomains fills the domains table.  d.entities and d.trackers must be
// filled.
func (d *decodedData) decodeDomains(domains map[string]string) {
	for _, rawDomain := range slices.Sorted(maps.Keys(domains)) {
		name := domains[rawDomain]
		domain := normalizeHost(rawDomain)
		e, ok := d.entities[name]
		if !ok {
			d.issues = append(d.issues, fmt.Errorf(
				"domain %q: entity %q: %w",
				domain,
				name,
				ErrUnknownEntity,
			))

			continue
		}

		if !d.isTrackerDomain(domain) && !slices.Contains(e.Domains, domain) {
			d.issues = append(d.issues, fmt.Errorf(
				"domain %q: entity %q: %w",
				domain,
				name,
				ErrUnrelatedDomain,
			))

			continue
		}

		d.domains[domain] = name
	}
}

// isTrackerDomain returns true if domain is a tracker domain or a subdomain of
// one.
func (d *decodedData) isTrackerDomain(domain string) (ok bool) {
	for _, v := range DomainVariants(domain) {
		if _, ok = d.trackers[v]; ok {
			return true
		}
	}

	return false
}

// decodeCNAMEs fills the CNAME table.  d.trackers must be filled.
func (d *decodedData) decodeCNAMEs(cnames map[string]string) {
	for _, rawDomain := range slices.Sorted(maps.Keys(cnames)) {
		rawTarget := cnames[rawDomain]
		domain, target := normalizeHost(rawDomain), normalizeHost(rawTarget)
		if !d.isTrackerDomain(target) {
			d.issues = append(d.issues, fmt.Errorf(
				"cname %q: target %q: %w",
				domain,
				target,
				ErrDanglingCNAME,
			))

			continue
		}

		d.cnames[domain] = target
	}
}

// normalizeDomains returns the sorted normalized copy of domains without
// duplicates and empty strings.
func normalizeDomains(domains []string) (norm []string) {
	norm = make([]string, 0, len(domains))
	for _, d := range domains {
		d = normalizeHost(d)
		if d != "" {
			norm = append(norm, d)
		}
	}

	slices.Sort(norm)

	return slices.Compact(norm)
}

// DomainVariants returns the host and its parent domains, most specific first,
// without the single-label root.  For "a.b.c.com" it returns "a.b.c.com",
// "b.c.com", and "c.com".  host must be normalized.
func DomainVariants(host string) (variants []string) {
	for _, sub := range netutil.Subdomains(host) {
		if strings.Contains(sub, ".") {
			variants = append(variants, sub)
		}
	}

	return variants
}

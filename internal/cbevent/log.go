package cbevent

// Log prefixes for the loggers of the content-blocking packages.
const (
	PrefixDataWatch     = "datawatch"
	PrefixPrivacyConfig = "privacyconfig"
	PrefixRuleCompiler  = "rulecompiler"
	PrefixRulesManager  = "rulesmgr"
	PrefixRuleStore     = "rulestore"
	PrefixTrackerData   = "tds"
	PrefixUnprotected   = "unprotected"
	PrefixWeb           = "web"
)

const (
	// KeyEtag is the log attribute for dataset etags.
	KeyEtag = "etag"

	// KeyGeneration is the log attribute for compilation generations.
	KeyGeneration = "generation"

	// KeyIdentifier is the log attribute for compiled rule-list identifiers.
	KeyIdentifier = "identifier"

	// KeyKind is the log attribute for event kinds.  See [Kind].
	KeyKind = "kind"

	// KeyOrigin is the log attribute for dataset origins.
	KeyOrigin = "origin"

	// KeyRuleList is the log attribute for rule-list names.
	KeyRuleList = "rule_list"
)

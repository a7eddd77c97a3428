package rules

// attribute describes one bare (non-dotted) identifier the grammar
// recognizes, and how it is realized in SQL against the graph schema.
type attribute struct {
	typ     ValueType
	column  string // SQL column/expression rendered for this attribute
}

// objectAttributes is the fixed table of identifiers naming object
// columns. Kept as data, not as a type-switch, so the completion
// engine and the parser share one source of truth.
var objectAttributes = map[string]attribute{
	"size":           {TNumber, "obj.size"},
	"object_type":    {TString, "obj.object_type"},
	"object_subtype": {TString, "obj.object_subtype"},
	"org":            {TString, "obj.org"},
	"ctime":          {TNumber, "obj.ctime"},
}

// builtinSig describes one @-prefixed function's parameter types and
// return type.
type builtinSig struct {
	params []ValueType
	ret    ValueType
	// isSignatureMatcher marks builtins whose first string-literal
	// argument is a ClamAV-style signature pattern, extracted by
	// ParseAndExtractClamSignatures.
	isSignatureMatcher bool
}

var builtins = map[string]builtinSig{
	"has_symbol":        {params: []ValueType{TString}, ret: TBool},
	"object_size":       {params: nil, ret: TNumber},
	"object_type":       {params: nil, ret: TString},
	"object_subtype":    {params: nil, ret: TString},
	"org":               {params: nil, ret: TString},
	"ctime":              {params: nil, ret: TNumber},
	"relation_meta":     {params: []ValueType{TString}, ret: TDynamic},
	"match_object_meta": {params: []ValueType{TString, TString}, ret: TBool},
	"match_clamav_sig":  {params: []ValueType{TString}, ret: TBool, isSignatureMatcher: true},
	"match_yara":        {params: []ValueType{TString}, ret: TBool, isSignatureMatcher: true},
}

// identifierNames and builtinNames back GetCodeCompletion; both are
// derived from the tables above rather than duplicated.
func identifierNames() []string {
	names := make([]string, 0, len(objectAttributes)+1)
	for n := range objectAttributes {
		names = append(names, n)
	}
	names = append(names, "meta")
	return names
}

func builtinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, "@"+n)
	}
	return names
}

package lsp

import (
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// Capability is one optional LSP feature a server may advertise.
type Capability uint32

const (
	CapCompletion Capability = 1 << iota
	CapHover
	CapSignatureHelp
	CapFormatting
	CapRangeFormatting
	CapDefinition
	CapDeclaration
	CapImplementation
	CapDocumentLink
	CapDocumentSymbol
	CapCodeAction
	CapCodeActionResolve
	CapRename
	CapSwitchSourceHeader
)

// capabilityKeys maps each capability to its ServerCapabilities path.
// CapSwitchSourceHeader is not advertised by servers; it comes from the
// server configuration's extensions.
var capabilityKeys = []struct {
	cap  Capability
	name string
	path string
}{
	{CapCompletion, "completion", "completionProvider"},
	{CapHover, "hover", "hoverProvider"},
	{CapSignatureHelp, "signatureHelp", "signatureHelpProvider"},
	{CapFormatting, "formatting", "documentFormattingProvider"},
	{CapRangeFormatting, "rangeFormatting", "documentRangeFormattingProvider"},
	{CapDefinition, "definition", "definitionProvider"},
	{CapDeclaration, "declaration", "declarationProvider"},
	{CapImplementation, "implementation", "implementationProvider"},
	{CapDocumentLink, "documentLink", "documentLinkProvider"},
	{CapDocumentSymbol, "documentSymbol", "documentSymbolProvider"},
	{CapCodeAction, "codeAction", "codeActionProvider"},
	{CapCodeActionResolve, "codeActionResolve", "codeActionProvider.resolveProvider"},
	{CapRename, "rename", "renameProvider"},
	{CapSwitchSourceHeader, "switchSourceHeader", ""},
}

// Extension names a ServerConfig can declare.
const (
	ExtSwitchSourceHeader = "switchSourceHeader"
	ExtFileStatus         = "fileStatus"
	ExtInlineCodeActions  = "inlineCodeActions"
)

// applyExtensions turns on the client side of the extensions a
// configuration declares: inline code actions on diagnostics and clangd's
// fileStatus notifications.
func applyExtensions(params *InitializeParams, extensions []string) {
	if slices.Contains(extensions, ExtInlineCodeActions) && params.Capabilities.TextDocument != nil {
		pd := params.Capabilities.TextDocument.PublishDiagnostics
		if pd == nil {
			pd = &PublishDiagnosticsClientCapabilities{}
			params.Capabilities.TextDocument.PublishDiagnostics = pd
		}
		pd.CodeActionsInline = true
	}
	if slices.Contains(extensions, ExtFileStatus) {
		opts, _ := params.InitializationOptions.(map[string]any)
		if opts == nil {
			opts = make(map[string]any)
		}
		opts["clangdFileStatus"] = true
		params.InitializationOptions = opts
	}
}

// CapabilitySet is the bitmask negotiated at initialize. It is read-only
// once built.
type CapabilitySet uint32

// Has reports whether c is present.
func (s CapabilitySet) Has(c Capability) bool {
	return uint32(s)&uint32(c) != 0
}

// With returns the set with c added.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return CapabilitySet(uint32(s) | uint32(c))
}

// String lists the capability names in the set.
func (s CapabilitySet) String() string {
	var names []string
	for _, k := range capabilityKeys {
		if s.Has(k.cap) {
			names = append(names, k.name)
		}
	}
	return "[" + strings.Join(names, " ") + "]"
}

// Negotiated is everything the client keeps from the initialize result.
type Negotiated struct {
	Capabilities               CapabilitySet
	TriggerCharacters          []string
	CommitCharacters           []string
	SignatureTriggerCharacters []string
	SyncKind                   TextDocumentSyncKind
	ServerName                 string
	ServerVersion              string
}

// truthy reports whether a capability value enables the feature: present,
// not null and not false.
func truthy(r gjson.Result) bool {
	if !r.Exists() {
		return false
	}
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	default:
		return true
	}
}

// ParseNegotiated extracts the capability set and trigger characters from an
// initialize result. extensions come from the server configuration.
func ParseNegotiated(result []byte, extensions []string) (Negotiated, error) {
	root := gjson.ParseBytes(result)
	caps := root.Get("capabilities")
	if !root.IsObject() || !caps.IsObject() {
		return Negotiated{}, &MalformedResponseError{Method: MethodInitialize, Field: "capabilities"}
	}

	var n Negotiated
	for _, k := range capabilityKeys {
		if k.path != "" && truthy(caps.Get(k.path)) {
			n.Capabilities = n.Capabilities.With(k.cap)
		}
	}
	if slices.Contains(extensions, ExtSwitchSourceHeader) {
		n.Capabilities = n.Capabilities.With(CapSwitchSourceHeader)
	}

	n.TriggerCharacters = stringArray(caps.Get("completionProvider.triggerCharacters"))
	n.CommitCharacters = stringArray(caps.Get("completionProvider.allCommitCharacters"))
	n.SignatureTriggerCharacters = stringArray(caps.Get("signatureHelpProvider.triggerCharacters"))

	// textDocumentSync is either a kind number or an options object.
	sync := caps.Get("textDocumentSync")
	switch {
	case sync.Type == gjson.Number:
		n.SyncKind = TextDocumentSyncKind(sync.Int())
	case sync.IsObject():
		n.SyncKind = TextDocumentSyncKind(sync.Get("change").Int())
	default:
		n.SyncKind = TextDocumentSyncKindNone
	}

	n.ServerName = root.Get("serverInfo.name").String()
	n.ServerVersion = root.Get("serverInfo.version").String()
	return n, nil
}

func stringArray(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	var out []string
	for _, v := range r.Array() {
		if v.Type == gjson.String {
			out = append(out, v.Str)
		}
	}
	return out
}

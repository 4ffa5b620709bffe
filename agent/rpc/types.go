package rpc

import (
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Agent method names.
const (
	MethodInitialize            = "initialize"
	MethodInitialized           = "initialized"
	MethodDidOpen               = "textDocument/didOpen"
	MethodDidChange             = "textDocument/didChange"
	MethodGetCompletionsCycling = "getCompletionsCycling"
	MethodGetCompletions        = "getCompletions"
	MethodCheckStatus           = "checkStatus"
	MethodSetEditorInfo         = "setEditorInfo"
	MethodSignInInitiate        = "signInInitiate"
	MethodSignInConfirm         = "signInConfirm"
	MethodSignOut               = "signOut"
	MethodExit                  = "exit"
)

// Sign-in status values reported by the agent.
const (
	StatusOK              = "OK"
	StatusMaybeOK         = "MaybeOk"
	StatusNotSignedIn     = "NotSignedIn"
	StatusAlreadySignedIn = "AlreadySignedIn"
	StatusNotAuthorized   = "NotAuthorized"
	StatusPromptUserCode  = "PromptUserDeviceFlow"
)

// TriggerKindAutomatic marks completions requested while typing.
const TriggerKindAutomatic = 2

// LanguageMarkdown is the languageId sent for every note.
const LanguageMarkdown = "markdown"

// ClientInfo names this client in the initialize request.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// CopilotCapabilities are the agent-specific client capabilities.
type CopilotCapabilities struct {
	OpenURL bool `json:"openURL"`
}

// ClientCapabilities wraps the capability blocks sent on initialize.
type ClientCapabilities struct {
	Copilot CopilotCapabilities `json:"copilot"`
}

// InitializeParams is the first request of every session.
type InitializeParams struct {
	ProcessID             int                    `json:"processId"`
	ClientInfo            ClientInfo             `json:"clientInfo"`
	RootURI               protocol.DocumentUri   `json:"rootUri"`
	Capabilities          ClientCapabilities     `json:"capabilities"`
	InitializationOptions map[string]interface{} `json:"initializationOptions"`
}

// EditorInfo names an editor or plugin in setEditorInfo.
type EditorInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// SetEditorInfoParams identifies the host editor and this plugin.
type SetEditorInfoParams struct {
	EditorInfo       EditorInfo `json:"editorInfo"`
	EditorPluginInfo EditorInfo `json:"editorPluginInfo"`
}

// CheckStatusParams controls whether the agent contacts the network.
type CheckStatusParams struct {
	LocalChecksOnly bool `json:"localChecksOnly"`
}

// StatusResult is returned by checkStatus, signInConfirm and signOut.
type StatusResult struct {
	Status string `json:"status"`
	User   string `json:"user,omitempty"`
}

// SignInInitiateResult carries the device code the user must enter.
type SignInInitiateResult struct {
	Status          string `json:"status"`
	UserCode        string `json:"userCode"`
	VerificationURI string `json:"verificationUri"`
	ExpiresIn       int    `json:"expiresIn,omitempty"`
	Interval        int    `json:"interval,omitempty"`
	User            string `json:"user,omitempty"`
}

// SignInConfirmParams echoes the user code back to the agent.
type SignInConfirmParams struct {
	UserCode string `json:"userCode"`
}

// DocumentContext identifies the document and version a completion targets.
type DocumentContext struct {
	URI     protocol.DocumentUri
	Version protocol.Integer
}

// FormattingOptions accompany every completion request.
type FormattingOptions struct {
	TabSize      int  `json:"tabSize"`
	IndentSize   int  `json:"indentSize"`
	InsertSpaces bool `json:"insertSpaces"`
}

// CompletionContext describes why completions were requested.
type CompletionContext struct {
	TriggerKind int `json:"triggerKind"`
}

// CompletionParams is the getCompletionsCycling request body.
type CompletionParams struct {
	TextDocument      protocol.VersionedTextDocumentIdentifier `json:"textDocument"`
	Position          protocol.Position                        `json:"position"`
	Context           CompletionContext                        `json:"context"`
	FormattingOptions FormattingOptions                        `json:"formattingOptions"`
}

// Completion is one candidate returned by the agent. Newer agents fill
// InsertText; older ones only Text.
type Completion struct {
	InsertText  string          `json:"insertText,omitempty"`
	Text        string          `json:"text,omitempty"`
	DisplayText string          `json:"displayText,omitempty"`
	Range       *protocol.Range `json:"range,omitempty"`
	UUID        string          `json:"uuid,omitempty"`
	DocVersion  int32           `json:"docVersion,omitempty"`
}

// Insertion returns the text to insert when the candidate is accepted.
func (c Completion) Insertion() string {
	if c.InsertText != "" {
		return c.InsertText
	}
	return c.Text
}

// CompletionList is the getCompletionsCycling response.
type CompletionList struct {
	Completions []Completion `json:"completions"`
}

// Len returns the number of candidates.
func (l CompletionList) Len() int {
	return len(l.Completions)
}

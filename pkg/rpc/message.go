package rpc

import "github.com/modelcontextprotocol/go-sdk/jsonrpc"

// Methods served by the evaguard stdio server.
const (
	MethodCheck        = "compliance/check"
	MethodRulesList    = "rules/list"
	MethodRulesAdd     = "rules/add"
	MethodRulesEnable  = "rules/enable"
	MethodRulesDisable = "rules/disable"
	MethodRulesRemove  = "rules/remove"
)

var knownMethods = map[string]struct{}{
	MethodCheck:        {},
	MethodRulesList:    {},
	MethodRulesAdd:     {},
	MethodRulesEnable:  {},
	MethodRulesDisable: {},
	MethodRulesRemove:  {},
}

// IsKnownMethod reports whether method is served.
func IsKnownMethod(method string) bool {
	_, ok := knownMethods[method]
	return ok
}

// CheckParams are the params of compliance/check.
type CheckParams struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// RuleParams are the params of rules/add.
type RuleParams struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	Pattern     string `json:"pattern"`
	Priority    int32  `json:"priority"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// RuleIDParams are the params of rules/enable, rules/disable and rules/remove.
type RuleIDParams struct {
	ID string `json:"id"`
}

// ValidateRequest checks a decoded message before dispatch.
// Responses are rejected: the server only accepts calls and notifications.
func ValidateRequest(msg jsonrpc.Message) (*jsonrpc.Request, error) {
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return nil, NewError(CodeInvalidRequest, "Invalid Request")
	}
	if req.Method == "" {
		return nil, NewError(CodeInvalidRequest, "Invalid Request")
	}
	if !IsKnownMethod(req.Method) {
		return nil, NewError(CodeMethodNotFound, "Method not found")
	}
	return req, nil
}

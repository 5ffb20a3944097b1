package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// NewEnforcementEnvironment creates the CEL environment for enforcement
// conditions. Variables:
//   - allowed (bool), violations (list<string>), violation_count (int)
//   - highest_priority (int), message_length (int), source (string)
//   - request_time (timestamp)
//
// Functions: glob(pattern, rule_id) matches rule ids with shell globs, e.g.
// violations.exists(v, glob("no_*", v)).
func NewEnforcementEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("allowed", cel.BoolType),
		cel.Variable("violations", cel.ListType(cel.StringType)),
		cel.Variable("violation_count", cel.IntType),
		cel.Variable("highest_priority", cel.IntType),
		cel.Variable("message_length", cel.IntType),
		cel.Variable("source", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, ok1 := pattern.Value().(string)
					n, ok2 := name.Value().(string)
					if !ok1 || !ok2 {
						return types.Bool(false)
					}
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),
	)
}

// buildActivation maps an Input onto the environment's variables.
func buildActivation(in Input) map[string]any {
	violations := in.Violations
	if violations == nil {
		violations = []string{}
	}
	return map[string]any{
		"allowed":          in.Allowed,
		"violations":       violations,
		"violation_count":  int64(len(violations)),
		"highest_priority": int64(in.HighestPriority),
		"message_length":   int64(in.MessageLength),
		"source":           in.Source,
		"request_time":     in.RequestTime,
	}
}

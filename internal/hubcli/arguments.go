package hubcli

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// parseArguments turns command line arguments into invocation arguments.
// Valid JSON is passed through as is, everything else is sent as a string.
func parseArguments(args []string) []interface{} {
	arguments := make([]interface{}, 0, len(args))
	for _, arg := range args {
		if gjson.Valid(arg) {
			arguments = append(arguments, json.RawMessage(arg))
		} else {
			arguments = append(arguments, arg)
		}
	}
	return arguments
}

// formatCall prints a server-initiated invocation as method(arg, ...)
func formatCall(method string, arguments []json.RawMessage) string {
	args := make([]string, len(arguments))
	for i, arg := range arguments {
		args[i] = string(arg)
	}
	return method + "(" + strings.Join(args, ", ") + ")"
}
